package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxEnrollBatch bounds a single Enroll call.
const MaxEnrollBatch = 1000

// RosterStore persists class membership: which students belong to a class.
//
// Rosters are what MarkMissing closes a session against when the caller does
// not supply an explicit student list.
type RosterStore interface {
	// Enroll adds studentIDs to className and returns how many were new.
	// Already-enrolled students are ignored.
	Enroll(ctx context.Context, className string, studentIDs []string, now time.Time) (int, error)
	// Withdraw removes one student; a missing membership is ErrNotFound.
	Withdraw(ctx context.Context, className, studentID string) error
	// Students returns the class roster sorted by student id.
	Students(ctx context.Context, className string) ([]string, error)
}

// normalizeEnroll trims and de-duplicates an enrollment request.
func normalizeEnroll(op, className string, studentIDs []string) (string, []string, error) {
	className = strings.TrimSpace(className)
	if className == "" || len(className) > 64 {
		return "", nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "class name must be 1..64 characters"}
	}
	if len(studentIDs) > MaxEnrollBatch {
		return "", nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "too many students in one batch"}
	}

	seen := make(map[string]struct{}, len(studentIDs))
	out := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if len(id) > 128 {
			return "", nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "student id too long"}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return "", nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "no students"}
	}
	sort.Strings(out)
	return className, out, nil
}

// InMemoryRoster is a RosterStore for dev mode and tests.
type InMemoryRoster struct {
	mu      sync.RWMutex
	classes map[string]map[string]time.Time
}

// NewInMemoryRoster constructs an empty roster.
func NewInMemoryRoster() *InMemoryRoster {
	return &InMemoryRoster{classes: make(map[string]map[string]time.Time)}
}

// Enroll adds the students to the class and returns how many were new.
func (r *InMemoryRoster) Enroll(_ context.Context, className string, studentIDs []string, now time.Time) (int, error) {
	className, students, err := normalizeEnroll("identity.Enroll", className, studentIDs)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.classes[className]
	if members == nil {
		members = make(map[string]time.Time, len(students))
		r.classes[className] = members
	}
	added := 0
	for _, id := range students {
		if _, ok := members[id]; ok {
			continue
		}
		members[id] = now.UTC()
		added++
	}
	return added, nil
}

// Withdraw removes one enrollment.
func (r *InMemoryRoster) Withdraw(_ context.Context, className, studentID string) error {
	const op = "identity.Withdraw"
	className = strings.TrimSpace(className)
	studentID = strings.TrimSpace(studentID)
	if className == "" || studentID == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "class name and student id are required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.classes[className]
	if _, ok := members[studentID]; !ok {
		return NotFoundError{Op: op, Resource: "enrollment"}
	}
	delete(members, studentID)
	if len(members) == 0 {
		delete(r.classes, className)
	}
	return nil
}

// Students returns the class roster sorted by student ID.
func (r *InMemoryRoster) Students(_ context.Context, className string) ([]string, error) {
	className = strings.TrimSpace(className)
	if className == "" {
		return nil, OpError{Op: "identity.Students", Kind: ErrInvalidInput, Msg: "class name is required"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.classes[className]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
