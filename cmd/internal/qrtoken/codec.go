package qrtoken

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"rollcall/cmd/security/token"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Version is the only envelope version this codec reads and writes.
	Version = 1

	// TypeAttendance is the envelope type for session attendance tokens.
	TypeAttendance = "attendance"

	// MaxTokenLen bounds accepted input before any decoding work.
	MaxTokenLen = 4096

	kdfInfo = "rollcall/qrtoken/v1"
)

// Payload is the attendance claim set carried by a token.
type Payload struct {
	SessionID   string
	FacultyID   string
	SubjectCode string
	ClassName   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Nonce       string
}

type envelope struct {
	V   int    `json:"v"`
	T   string `json:"t"`
	CT  string `json:"ct"`
	IV  string `json:"iv"`
	Tag string `json:"tag"`
}

// Codec implements the attendance token format.
type Codec struct {
	issuer    string
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
	aead   cipher.AEAD
}

// NewCodec builds a Codec from cfg. It derives the AEAD key once.
func NewCodec(cfg Config) (*Codec, error) {
	if strings.TrimSpace(cfg.Issuer) == "" || len(cfg.EncryptionSecret) < minEncryptionSecretBytes {
		return nil, ErrConfig
	}

	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SigningKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	key, err := token.DeriveKey(cfg.EncryptionSecret, kdfInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, ErrConfig
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrConfig
	}

	return &Codec{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
		aead:      aead,
	}, nil
}

// Encode signs, seals, and wraps p. A missing nonce is filled with a random UUID.
func (c *Codec) Encode(p Payload) (string, error) {
	if p.SessionID == "" || p.IssuedAt.IsZero() || !p.ExpiresAt.After(p.IssuedAt) {
		return "", ErrMalformed
	}
	if p.Nonce == "" {
		p.Nonce = uuid.NewString()
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetIssuedAt(p.IssuedAt)
	tok.SetNotBefore(p.IssuedAt)
	tok.SetExpiration(p.ExpiresAt)

	// Exact instants travel as custom claims; registered claims are second precision.
	tok.SetString("sid", p.SessionID)
	tok.SetString("fid", p.FacultyID)
	tok.SetString("sub_code", p.SubjectCode)
	tok.SetString("class", p.ClassName)
	tok.SetString("issued_at", p.IssuedAt.UTC().Format(time.RFC3339Nano))
	tok.SetString("expires_at", p.ExpiresAt.UTC().Format(time.RFC3339Nano))
	tok.SetString("nonce", p.Nonce)

	return c.seal(tok.V4Sign(c.secret, nil), TypeAttendance)
}

// seal encrypts a signed token and wraps it in an envelope of type typ.
func (c *Codec) seal(signed, typ string) (string, error) {
	iv := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, iv, []byte(signed), associatedData(Version, typ))
	split := len(sealed) - c.aead.Overhead()

	env := envelope{
		V:   Version,
		T:   typ,
		CT:  b64(sealed[:split]),
		IV:  b64(iv),
		Tag: b64(sealed[split:]),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return b64(raw), nil
}

// Decode reverses Encode and validates the token at now.
func (c *Codec) Decode(tokenStr string, now time.Time) (Payload, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" || len(tokenStr) > MaxTokenLen {
		return Payload{}, ErrMalformed
	}

	raw, err := b64strict.DecodeString(tokenStr)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return Payload{}, err
	}

	// Shape checks happen before any cryptographic work.
	if env.V != Version {
		return Payload{}, ErrMalformed
	}
	if env.T != TypeAttendance {
		return Payload{}, ErrWrongType
	}

	ct, err1 := b64strict.DecodeString(env.CT)
	iv, err2 := b64strict.DecodeString(env.IV)
	tag, err3 := b64strict.DecodeString(env.Tag)
	if err1 != nil || err2 != nil || err3 != nil {
		return Payload{}, ErrMalformed
	}
	if len(iv) != chacha20poly1305.NonceSizeX || len(tag) != c.aead.Overhead() || len(ct) == 0 {
		return Payload{}, ErrMalformed
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, iv, sealed, associatedData(env.V, env.T))
	if err != nil {
		return Payload{}, ErrSignatureInvalid
	}

	// Expiry is checked below against the caller's clock, not the parser's.
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := parser.ParseV4Public(c.public, string(plain), nil)
	if err != nil {
		return Payload{}, ErrSignatureInvalid
	}

	signedExp, err := parsed.GetExpiration()
	if err != nil {
		return Payload{}, ErrSignatureInvalid
	}
	if now.After(signedExp.Add(c.clockSkew)) {
		return Payload{}, ErrExpired
	}

	p, err := payloadFromToken(parsed)
	if err != nil {
		return Payload{}, err
	}

	// Independent of the signed expiration and its skew allowance.
	if now.After(p.ExpiresAt) {
		return Payload{}, ErrExpired
	}

	return p, nil
}

func payloadFromToken(t *paseto.Token) (Payload, error) {
	get := func(key string) string {
		v, err := t.GetString(key)
		if err != nil {
			return ""
		}
		return v
	}

	p := Payload{
		SessionID:   get("sid"),
		FacultyID:   get("fid"),
		SubjectCode: get("sub_code"),
		ClassName:   get("class"),
		Nonce:       get("nonce"),
	}
	if p.SessionID == "" || p.Nonce == "" {
		return Payload{}, ErrMalformed
	}

	var err error
	if p.IssuedAt, err = time.Parse(time.RFC3339Nano, get("issued_at")); err != nil {
		return Payload{}, ErrMalformed
	}
	if p.ExpiresAt, err = time.Parse(time.RFC3339Nano, get("expires_at")); err != nil {
		return Payload{}, ErrMalformed
	}
	return p, nil
}

// parseEnvelope requires exactly the envelope keys, matched case-sensitively.
func parseEnvelope(raw []byte) (envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return envelope{}, ErrMalformed
	}

	var env envelope
	targets := map[string]any{
		"v":   &env.V,
		"t":   &env.T,
		"ct":  &env.CT,
		"iv":  &env.IV,
		"tag": &env.Tag,
	}
	if len(fields) != len(targets) {
		return envelope{}, ErrMalformed
	}
	for key, dst := range targets {
		msg, ok := fields[key]
		if !ok {
			return envelope{}, ErrMalformed
		}
		if err := json.Unmarshal(msg, dst); err != nil {
			return envelope{}, ErrMalformed
		}
	}
	return env, nil
}

func associatedData(version int, typ string) []byte {
	return []byte(strconv.Itoa(version) + "|" + typ)
}

var b64strict = base64.RawURLEncoding.Strict()

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
