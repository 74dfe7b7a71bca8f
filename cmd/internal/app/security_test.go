package app

import (
	"strings"
	"testing"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv("ROLLCALL_FINGERPRINT_KEY", "")
	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("policy off should pass: %v", err)
	}

	cfg := Config{RequireFingerprintHMAC: true}
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing-key error, got %v", err)
	}

	t.Setenv("ROLLCALL_FINGERPRINT_KEY", "short")
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected too-short error, got %v", err)
	}

	t.Setenv("ROLLCALL_FINGERPRINT_KEY", strings.Repeat("p", 32))
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Fatalf("valid key should pass: %v", err)
	}
}
