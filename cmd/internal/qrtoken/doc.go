// Package qrtoken encodes and decodes the opaque attendance token rendered into
// a session's QR code.
//
// A token is built in three layers:
//  1. The payload is signed as a PASETO v4.public token (Ed25519) carrying the
//     issuer and an expiration.
//  2. The signed token is sealed with XChaCha20-Poly1305 under a key derived
//     by HKDF-SHA256 from a configured secret with a fixed info label. The
//     envelope version and type are bound as associated data.
//  3. The sealed parts are wrapped in a versioned JSON envelope and encoded
//     with unpadded base64url for display.
//
// Decoding checks the envelope shape before any cryptography, authenticates
// the ciphertext before trusting it, verifies the signature, and then checks
// expiry twice: once against the signed expiration and once against the
// payload's own expiresAt.
package qrtoken
