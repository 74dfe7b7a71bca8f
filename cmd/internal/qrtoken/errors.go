package qrtoken

import "errors"

var (
	// ErrMalformed is returned when a token cannot be parsed as an envelope.
	ErrMalformed = errors.New("token malformed")

	// ErrSignatureInvalid is returned when authentication or signature verification fails.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrExpired is returned when a token is past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrWrongType is returned when the envelope type is not an attendance token.
	ErrWrongType = errors.New("token wrong type")

	// ErrConfig is returned for invalid codec configuration.
	ErrConfig = errors.New("invalid token codec config")
)
