package override

import (
	"context"
	"time"

	"rollcall/cmd/internal/pgutil"
)

// Store persists the override log.
type Store interface {
	// Append writes a new entry.
	Append(ctx context.Context, e Entry) error

	// AppendIn writes a new entry through q, the transaction of the write it
	// audits. A nil q behaves like Append.
	AppendIn(ctx context.Context, q pgutil.Querier, e Entry) error

	Get(ctx context.Context, id string) (Entry, error)

	// Decide sets the decision only while the entry is pending.
	// updated=false means the entry was no longer pending.
	Decide(ctx context.Context, id string, to ApprovalStatus, approverID, note string, at time.Time) (out Entry, updated bool, err error)

	// CountByFacultySince counts the faculty's entries created in [since, until).
	CountByFacultySince(ctx context.Context, facultyID string, since, until time.Time) (int, error)

	// ListBySession returns entries oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]Entry, error)

	// Pending returns up to limit pending entries, oldest first.
	Pending(ctx context.Context, limit int) ([]Entry, error)
}
