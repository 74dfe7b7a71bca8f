// Package token provides the hashing and key primitives used by Rollcall.
//
// It is the single source of truth for:
//   - Device fingerprint digests: SHA-256 by default, HMAC-SHA256 when a pepper is configured.
//   - Secret loading from the environment with minimum-length policy.
//   - HKDF-SHA256 derivation of purpose-bound subkeys (domain separation by info label).
//
// Digests are stable 64-char lowercase hex for storage and constant-time comparison.
//
// Environment:
//   - ROLLCALL_FINGERPRINT_KEY: when set, fingerprints are HMAC-SHA256 with this pepper.
package token
