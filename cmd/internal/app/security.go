package app

import (
	"errors"

	"rollcall/cmd/security/token"
)

// ValidateSecurityConfig enforces Rollcall's security policy at startup.
//
// Fail fast: under the policy a missing pepper would silently downgrade
// device fingerprints to plain SHA-256.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireFingerprintHMAC {
		return nil
	}

	// Measured in bytes because the key is used as raw HMAC key material.
	if _, err := token.KeyFromEnv(token.FingerprintKeyEnv, 32); err != nil {
		switch {
		case errors.Is(err, token.ErrKeyMissing):
			return errors.New("security policy: ROLLCALL_REQUIRE_FINGERPRINT_HMAC=true but ROLLCALL_FINGERPRINT_KEY is missing")
		case errors.Is(err, token.ErrKeyTooShort):
			return errors.New("security policy: ROLLCALL_REQUIRE_FINGERPRINT_HMAC=true but ROLLCALL_FINGERPRINT_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.DigesterFromEnv().Keyed() {
		return errors.New("security policy: ROLLCALL_REQUIRE_FINGERPRINT_HMAC=true but fingerprint digester is not in HMAC mode")
	}
	return nil
}
