package override

import (
	"context"
	"sort"
	"sync"
	"time"

	"rollcall/cmd/internal/pgutil"
)

// InMemoryStore is a dev-only Store used when no database is configured.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]Entry)}
}

// Append stores e under its ID.
func (m *InMemoryStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.ID] = e
	return nil
}

// AppendIn ignores q; the in-memory ledger passes none.
func (m *InMemoryStore) AppendIn(ctx context.Context, _ pgutil.Querier, e Entry) error {
	return m.Append(ctx, e)
}

// Get returns the entry with the given ID or ErrNotFound.
func (m *InMemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Decide records a decision on a pending entry.
func (m *InMemoryStore) Decide(ctx context.Context, id string, to ApprovalStatus, approverID, note string, at time.Time) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false, ErrNotFound
	}
	if e.ApprovalStatus != ApprovalPending {
		return e, false, nil
	}
	decided := at
	e.ApprovalStatus = to
	e.ApproverID = approverID
	e.ApprovalNote = note
	e.DecidedAt = &decided
	m.entries[id] = e
	return e, true, nil
}

// CountByFacultySince counts the faculty's entries created in [since, until).
func (m *InMemoryStore) CountByFacultySince(ctx context.Context, facultyID string, since, until time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.FacultyID == facultyID && !e.CreatedAt.Before(since) && e.CreatedAt.Before(until) {
			n++
		}
	}
	return n, nil
}

// ListBySession returns the session's entries oldest first.
func (m *InMemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return m.filter(ctx, 0, func(e Entry) bool { return e.SessionID == sessionID })
}

// Pending returns up to limit pending entries oldest first.
func (m *InMemoryStore) Pending(ctx context.Context, limit int) ([]Entry, error) {
	return m.filter(ctx, limit, func(e Entry) bool { return e.ApprovalStatus == ApprovalPending })
}

func (m *InMemoryStore) filter(ctx context.Context, limit int, keep func(Entry) bool) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	out := make([]Entry, 0, 8)
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
