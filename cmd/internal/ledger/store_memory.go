package ledger

import (
	"context"
	"sort"
	"sync"
)

type recordKey struct {
	session string
	student string
}

// InMemoryStore is a dev-only Store used when no database is configured.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[recordKey]Record
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[recordKey]Record)}
}

// Insert stores r unless the pair already has a record.
func (m *InMemoryStore) Insert(ctx context.Context, r Record) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{r.SessionID, r.StudentID}
	if cur, ok := m.rows[k]; ok {
		return cur, false, nil
	}
	m.rows[k] = r
	return r, true, nil
}

// Get returns the pair's record or ErrNotFound.
func (m *InMemoryStore) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[recordKey{sessionID, studentID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// ListBySession returns the session's records in marking order.
func (m *InMemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	out := make([]Record, 0, 32)
	for k, r := range m.rows {
		if k.session == sessionID {
			out = append(out, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MarkedAt.Equal(out[j].MarkedAt) {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].MarkedAt.Before(out[j].MarkedAt)
	})
	return out, nil
}

// Upsert replaces the pair's record; then runs before the write lands.
func (m *InMemoryStore) Upsert(ctx context.Context, r Record, then WriteHook) (Status, Record, error) {
	if err := ctx.Err(); err != nil {
		return "", Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{r.SessionID, r.StudentID}
	prev := NotMarked
	if cur, ok := m.rows[k]; ok {
		prev = cur.Status
		r.ID = cur.ID
		r.CreatedAt = cur.CreatedAt
		if r.DeviceID == "" {
			r.DeviceID = cur.DeviceID
		}
	}
	if then != nil {
		if err := then(ctx, nil, prev, r); err != nil {
			return "", Record{}, err
		}
	}
	m.rows[k] = r
	return prev, r, nil
}

// InsertMissing stores the records whose pairs have none yet.
func (m *InMemoryStore) InsertMissing(ctx context.Context, rs []Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range rs {
		k := recordKey{r.SessionID, r.StudentID}
		if _, ok := m.rows[k]; ok {
			continue
		}
		m.rows[k] = r
		n++
	}
	return n, nil
}
