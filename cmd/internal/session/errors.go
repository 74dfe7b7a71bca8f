package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned when a session cannot accept scans at the given instant.
	ErrClosed = errors.New("session closed")

	// ErrNotActive is returned when a transition requires an active session.
	ErrNotActive = errors.New("session not active")

	// ErrNotOwner is returned when the caller does not own the session.
	ErrNotOwner = errors.New("session not owned by caller")

	// ErrInvalidInput is returned for rejected create/extend input.
	ErrInvalidInput = errors.New("invalid session input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// TransitionError reports a refused status transition.
type TransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s refused for %s", ErrNotActive.Error(), e.From, e.To, e.SessionID)
}

func (e TransitionError) Unwrap() error { return ErrNotActive }

// ValidationError names the field and rule that rejected an input.
type ValidationError struct {
	Field string
	Rule  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput.Error(), e.Field, e.Rule)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }
