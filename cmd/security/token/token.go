package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// FingerprintKeyEnv is the env var name for the optional fingerprint pepper.
	// #nosec G101 -- not a credential; it's an environment variable name.
	FingerprintKeyEnv = "ROLLCALL_FINGERPRINT_KEY"

	hexDigestLen = 64
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromEnv returns the trimmed bytes of env var name, enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func KeyFromEnv(name string, minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Digester produces fingerprint digests. The zero value uses plain SHA-256.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester; a non-empty key switches it to HMAC mode.
func NewDigester(key []byte) Digester {
	if len(key) == 0 {
		return Digester{}
	}
	return Digester{key: append([]byte(nil), key...)}
}

// DigesterFromEnv builds a Digester from ROLLCALL_FINGERPRINT_KEY, SHA-256 when unset.
func DigesterFromEnv() Digester {
	key, err := KeyFromEnv(FingerprintKeyEnv, 0)
	if err != nil {
		return Digester{}
	}
	return NewDigester(key)
}

// Keyed reports whether the digester is in HMAC mode.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Hex returns the hex digest of s.
func (d Digester) Hex(s string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, d.key)
}

// EqualHex64 compares two 64-char hex digests in constant time.
func EqualHex64(a, b string) bool {
	if len(a) != hexDigestLen || len(b) != hexDigestLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DeriveKey expands secret into an n-byte subkey bound to info with HKDF-SHA256.
// Different info labels yield independent keys from the same secret.
func DeriveKey(secret []byte, info string, n int) ([]byte, error) {
	if len(secret) == 0 || n <= 0 || strings.TrimSpace(info) == "" {
		return nil, ErrDerive
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrDerive
	}
	return out, nil
}
