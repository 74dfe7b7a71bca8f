package session

import (
	"context"
	"time"
)

// TokenUpdate is the current token state written on (re)issue.
type TokenUpdate struct {
	Token     string
	Nonce     string
	ExpiresAt time.Time
}

// Store abstracts persistence for sessions.
//
// Every status-changing method is conditional on the stored status being
// active, so concurrent writers can never move a session backwards or
// overwrite a terminal state.
type Store interface {
	// Create inserts a new session.
	Create(ctx context.Context, s Session) error

	// Get loads a session by ID.
	Get(ctx context.Context, id string) (Session, error)

	// ListByFaculty returns the faculty's sessions, newest first.
	ListByFaculty(ctx context.Context, facultyID string, limit int) ([]Session, error)

	// Transition moves an active session to a terminal status.
	// It returns the updated row, or TransitionError when the row is not active.
	Transition(ctx context.Context, id string, to Status, now time.Time) (Session, error)

	// ExpireIfDue moves the session to expired when it is active and its end is before now.
	ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error)

	// ExpireDue expires up to limit active sessions whose end is before now.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)

	// Extend sets a new end time on an active session whose end still equals oldEnd.
	Extend(ctx context.Context, id string, oldEnd, newEnd time.Time, tok TokenUpdate, now time.Time) (Session, error)

	// SetToken records a re-issued token on an active session.
	SetToken(ctx context.Context, id string, tok TokenUpdate, now time.Time) error

	// IncrementScans adds one to total_scans.
	IncrementScans(ctx context.Context, id string, now time.Time) error

	// IncrementOverrides adds one to manual_overrides and returns the updated session.
	IncrementOverrides(ctx context.Context, id string, now time.Time) (Session, error)
}
