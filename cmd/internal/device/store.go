package device

import (
	"context"
	"time"
)

// Store persists device bindings.
//
// Register, Promote and Flag must be atomic per student: concurrent calls for
// the same student never leave zero or two primaries among active bindings
// that had one.
type Store interface {
	// Register inserts b unless (student, device) already exists, in which case
	// the existing binding is returned with created=false. The store sets
	// IsPrimary when the student has no primary binding.
	Register(ctx context.Context, b Binding) (out Binding, created bool, err error)

	Get(ctx context.Context, studentID, deviceID string) (Binding, error)
	ListByStudent(ctx context.Context, studentID string) ([]Binding, error)

	// Promote makes (student, device) the only primary binding.
	Promote(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error)

	// Flag appends entry; deactivate also clears primary and promotes the most
	// recently used other active binding.
	Flag(ctx context.Context, studentID, deviceID string, entry SuspiciousActivity, deactivate bool, now time.Time) (FlagResult, error)

	RecordUse(ctx context.Context, studentID, deviceID string, now time.Time) error
	MarkVerified(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error)
}
