package device

import (
	"strconv"
	"strings"

	"rollcall/cmd/security/token"
)

// Attributes are the stable client characteristics a fingerprint is built from.
type Attributes struct {
	UserAgent           string `json:"userAgent"`
	Platform            string `json:"platform"`
	Language            string `json:"language"`
	Timezone            string `json:"timezone"`
	ScreenResolution    string `json:"screenResolution"`
	ColorDepth          int    `json:"colorDepth"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
}

const fieldSep = "|"

var fieldEscaper = strings.NewReplacer(`\`, `\\`, fieldSep, `\`+fieldSep)

// Canonical returns the ordered, separator-joined attribute string.
// Separators inside values are escaped so distinct lists never collide.
func (a Attributes) Canonical() string {
	fields := [...]string{
		a.UserAgent,
		a.Platform,
		a.Language,
		a.Timezone,
		a.ScreenResolution,
		strconv.Itoa(a.ColorDepth),
		strconv.Itoa(a.HardwareConcurrency),
	}
	for i := range fields {
		fields[i] = fieldEscaper.Replace(fields[i])
	}
	return strings.Join(fields[:], fieldSep)
}

// Fingerprinter digests attributes into 64-char hex fingerprints.
type Fingerprinter struct {
	d token.Digester
}

// NewFingerprinter wraps d. A keyed digester produces HMAC fingerprints.
func NewFingerprinter(d token.Digester) Fingerprinter {
	return Fingerprinter{d: d}
}

// Generate returns the fingerprint of a.
func (f Fingerprinter) Generate(a Attributes) string {
	return f.d.Hex(a.Canonical())
}

// Verify reports whether a reproduces stored exactly.
func (f Fingerprinter) Verify(stored string, a Attributes) bool {
	return token.EqualHex64(stored, f.Generate(a))
}
