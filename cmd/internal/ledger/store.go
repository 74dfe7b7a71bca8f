package ledger

import (
	"context"

	"rollcall/cmd/internal/pgutil"
)

// WriteHook runs inside an override write, after the replacement record is
// known and before it becomes visible. q is the open transaction for
// Postgres-backed stores and nil otherwise. A returned error aborts the write.
type WriteHook func(ctx context.Context, q pgutil.Querier, prev Status, out Record) error

// Store persists attendance records.
type Store interface {
	// Insert writes r unless a record for (student, session) exists, in which
	// case the existing record is returned with inserted=false.
	Insert(ctx context.Context, r Record) (out Record, inserted bool, err error)

	Get(ctx context.Context, sessionID, studentID string) (Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)

	// Upsert writes r over any existing record for the pair under a row lock
	// and returns the status it replaced (NotMarked when none). The existing
	// record's ID and CreatedAt are kept. A non-nil then runs before commit.
	Upsert(ctx context.Context, r Record, then WriteHook) (prev Status, out Record, err error)

	// InsertMissing inserts each record whose pair has none and returns how
	// many were written.
	InsertMissing(ctx context.Context, rs []Record) (int, error)
}
