package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only Store used when no database is configured.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]Session)}
}

// Create stores a new session.
func (m *InMemoryStore) Create(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[s.ID] = s
	return nil
}

// Get returns the stored session or ErrNotFound.
func (m *InMemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// ListByFaculty returns up to limit of the faculty's sessions, newest first.
func (m *InMemoryStore) ListByFaculty(ctx context.Context, facultyID string, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	out := make([]Session, 0, 16)
	for _, s := range m.rows {
		if s.FacultyID == facultyID {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition moves an active session to a terminal status.
func (m *InMemoryStore) Transition(ctx context.Context, id string, to Status, now time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status != StatusActive {
		return s, TransitionError{SessionID: id, From: s.Status, To: to}
	}

	s.Status = to
	s.UpdatedAt = now
	closed := now
	s.ClosedAt = &closed
	m.rows[id] = s
	return s, nil
}

// ExpireIfDue expires the session if its window closed before now.
func (m *InMemoryStore) ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if !m.expireLocked(&s, now) {
		return false, nil
	}
	m.rows[id] = s
	return true, nil
}

// ExpireDue expires up to limit overdue active sessions.
func (m *InMemoryStore) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.rows {
		if limit > 0 && n >= limit {
			break
		}
		if m.expireLocked(&s, now) {
			m.rows[id] = s
			n++
		}
	}
	return n, nil
}

func (m *InMemoryStore) expireLocked(s *Session, now time.Time) bool {
	if s.Status != StatusActive || !s.EndTime.Before(now) {
		return false
	}
	s.Status = StatusExpired
	s.UpdatedAt = now
	closed := s.EndTime
	s.ClosedAt = &closed
	return true
}

// Extend moves the end time from oldEnd to newEnd and stores the new token.
func (m *InMemoryStore) Extend(ctx context.Context, id string, oldEnd, newEnd time.Time, tok TokenUpdate, now time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status != StatusActive || !s.EndTime.Equal(oldEnd) {
		return s, TransitionError{SessionID: id, From: s.Status, To: StatusActive}
	}

	s.EndTime = newEnd
	s.Validity = newEnd.Sub(s.StartTime)
	s.Token, s.TokenNonce, s.TokenExpiresAt = tok.Token, tok.Nonce, tok.ExpiresAt
	s.UpdatedAt = now
	m.rows[id] = s
	return s, nil
}

// SetToken replaces the session's current token.
func (m *InMemoryStore) SetToken(ctx context.Context, id string, tok TokenUpdate, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return TransitionError{SessionID: id, From: s.Status, To: StatusActive}
	}
	s.Token, s.TokenNonce, s.TokenExpiresAt = tok.Token, tok.Nonce, tok.ExpiresAt
	s.UpdatedAt = now
	m.rows[id] = s
	return nil
}

// IncrementScans bumps the scan counter.
func (m *InMemoryStore) IncrementScans(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	s.TotalScans++
	s.UpdatedAt = now
	m.rows[id] = s
	return nil
}

// IncrementOverrides bumps the manual override counter and returns the
// updated session.
func (m *InMemoryStore) IncrementOverrides(ctx context.Context, id string, now time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.ManualOverrides++
	s.UpdatedAt = now
	m.rows[id] = s
	return s, nil
}
