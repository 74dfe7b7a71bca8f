package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

type bindingKey struct {
	student string
	device  string
}

// InMemoryStore is a dev-only Store used when no database is configured.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[bindingKey]*Binding
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[bindingKey]*Binding)}
}

func clone(b *Binding) Binding {
	out := *b
	out.Suspicious = append([]SuspiciousActivity(nil), b.Suspicious...)
	return out
}

// Register binds the device, returning the existing binding with created=false
// when the pair is already bound. The first binding becomes primary.
func (m *InMemoryStore) Register(ctx context.Context, b Binding) (Binding, bool, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := bindingKey{b.StudentID, b.DeviceID}
	if cur, ok := m.rows[k]; ok {
		return clone(cur), false, nil
	}

	hasPrimary := false
	for key, row := range m.rows {
		if row.IsActive && row.Fingerprint == b.Fingerprint {
			return Binding{}, false, ErrFingerprintConflict
		}
		if key.student == b.StudentID && row.IsPrimary {
			hasPrimary = true
		}
	}

	b.IsActive = true
	b.IsPrimary = !hasPrimary
	row := b
	m.rows[k] = &row
	return clone(&row), true, nil
}

// Get returns the binding for the student and device or ErrNotFound.
func (m *InMemoryStore) Get(ctx context.Context, studentID, deviceID string) (Binding, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[bindingKey{studentID, deviceID}]
	if !ok {
		return Binding{}, ErrNotRegistered
	}
	return clone(row), nil
}

// ListByStudent returns the student's bindings, oldest first.
func (m *InMemoryStore) ListByStudent(ctx context.Context, studentID string) ([]Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	out := make([]Binding, 0, 4)
	for k, row := range m.rows {
		if k.student == studentID {
			out = append(out, clone(row))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Promote makes the device the student's only primary binding.
func (m *InMemoryStore) Promote(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.rows[bindingKey{studentID, deviceID}]
	if !ok {
		return Binding{}, ErrNotRegistered
	}
	if !target.IsActive {
		return Binding{}, ErrInactive
	}
	m.promoteLocked(studentID, deviceID, now)
	return clone(target), nil
}

func (m *InMemoryStore) promoteLocked(studentID, deviceID string, now time.Time) {
	for k, row := range m.rows {
		if k.student != studentID {
			continue
		}
		want := k.device == deviceID
		if row.IsPrimary != want {
			row.IsPrimary = want
			row.UpdatedAt = now
		}
	}
}

// Flag appends entry to the binding's suspicious activity and, when
// deactivate is set, retires it and hands primary to the next active device.
func (m *InMemoryStore) Flag(ctx context.Context, studentID, deviceID string, entry SuspiciousActivity, deactivate bool, now time.Time) (FlagResult, error) {
	if err := ctx.Err(); err != nil {
		return FlagResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[bindingKey{studentID, deviceID}]
	if !ok {
		return FlagResult{}, ErrNotRegistered
	}

	row.Suspicious = append(row.Suspicious, entry)
	row.UpdatedAt = now

	var res FlagResult
	if deactivate && row.IsActive {
		wasPrimary := row.IsPrimary
		row.IsActive = false
		row.IsPrimary = false
		at := now
		row.DeactivatedAt = &at
		res.Deactivated = true

		if wasPrimary {
			if next := m.successorLocked(studentID, deviceID); next != "" {
				m.promoteLocked(studentID, next, now)
				res.PromotedDeviceID = next
			}
		}
	}

	res.Binding = clone(row)
	return res, nil
}

// successorLocked picks the most recently used other active binding.
func (m *InMemoryStore) successorLocked(studentID, excludeDevice string) string {
	var best *Binding
	for k, row := range m.rows {
		if k.student != studentID || k.device == excludeDevice || !row.IsActive {
			continue
		}
		if best == nil || moreRecent(row, best) {
			best = row
		}
	}
	if best == nil {
		return ""
	}
	return best.DeviceID
}

func moreRecent(a, b *Binding) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// RecordUse stamps the binding's last use.
func (m *InMemoryStore) RecordUse(ctx context.Context, studentID, deviceID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[bindingKey{studentID, deviceID}]
	if !ok {
		return ErrNotRegistered
	}
	row.UsageCount++
	at := now
	row.LastUsedAt = &at
	row.UpdatedAt = now
	return nil
}

// MarkVerified marks the binding as verified at now.
func (m *InMemoryStore) MarkVerified(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[bindingKey{studentID, deviceID}]
	if !ok {
		return Binding{}, ErrNotRegistered
	}
	if !row.IsVerified {
		row.IsVerified = true
		row.UpdatedAt = now
	}
	return clone(row), nil
}
