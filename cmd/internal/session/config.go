package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines session lifecycle policy.
type Config struct {
	// MaxExtension caps a single Extend call.
	MaxExtension time.Duration

	// TokenGrace is added to the session end to form the token expiry, so a
	// slightly late scan is reported as a closed session rather than a bad token.
	TokenGrace time.Duration

	// DefaultOverrideCap is the per-session manual override cap applied when
	// the create input does not set one.
	DefaultOverrideCap int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxExtension:       30 * time.Minute,
		TokenGrace:         2 * time.Minute,
		DefaultOverrideCap: 5,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - ROLLCALL_SESSION_MAX_EXTENSION
//   - ROLLCALL_SESSION_TOKEN_GRACE
//   - ROLLCALL_SESSION_OVERRIDE_CAP
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("ROLLCALL_SESSION_MAX_EXTENSION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute || d > 2*time.Hour {
			return Config{}, ErrConfig
		}
		cfg.MaxExtension = d
	}

	if v := os.Getenv("ROLLCALL_SESSION_TOKEN_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 30*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.TokenGrace = d
	}

	if v := os.Getenv("ROLLCALL_SESSION_OVERRIDE_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.DefaultOverrideCap = n
	}

	return cfg, nil
}
