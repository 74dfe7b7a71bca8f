package qrtoken

import (
	"crypto/rand"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const minEncryptionSecretBytes = 32

// Config defines TokenCodec keys and verification tolerance.
type Config struct {
	// Issuer is set as the PASETO "iss" claim and required on decode.
	Issuer string

	// SigningKeyHex is the hex-encoded Ed25519 secret key for PASETO v4.public.
	SigningKeyHex string

	// EncryptionSecret is the HKDF input keying material for the AEAD key.
	EncryptionSecret []byte

	// ClockSkew is tolerated when checking the signed expiration.
	ClockSkew time.Duration
}

// DefaultConfig returns defaults without keys.
func DefaultConfig() Config {
	return Config{
		Issuer:    "rollcall",
		ClockSkew: 5 * time.Second,
	}
}

// DevConfig returns a config with freshly generated keys.
// Tokens do not survive a restart; use only without a database.
func DevConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.EncryptionSecret = make([]byte, minEncryptionSecretBytes)
	_, _ = rand.Read(cfg.EncryptionSecret)
	return cfg
}

// LoadConfigFromEnv loads codec configuration from environment variables.
//
// Required:
//   - ROLLCALL_QR_SIGNING_KEY_HEX
//   - ROLLCALL_QR_ENCRYPTION_SECRET (>= 32 bytes)
//
// Optional:
//   - ROLLCALL_QR_ISSUER
//   - ROLLCALL_QR_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("ROLLCALL_QR_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("ROLLCALL_QR_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > time.Minute {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.SigningKeyHex = strings.TrimSpace(os.Getenv("ROLLCALL_QR_SIGNING_KEY_HEX"))
	if cfg.SigningKeyHex == "" {
		return Config{}, ErrConfig
	}

	secret := strings.TrimSpace(os.Getenv("ROLLCALL_QR_ENCRYPTION_SECRET"))
	if len(secret) < minEncryptionSecretBytes {
		return Config{}, ErrConfig
	}
	cfg.EncryptionSecret = []byte(secret)

	return cfg, nil
}
