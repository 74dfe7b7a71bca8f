// Package ledger is the canonical attendance store. It guarantees at most one
// record per (student, session); the storage layer's uniqueness constraint is
// the guard, not an application lock.
package ledger

import "time"

// Status is a student's attendance status in one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"

	// NotMarked is reported as the previous status when no record existed.
	// It is never stored.
	NotMarked Status = "not_marked"
)

// Valid reports whether s is a storable status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// Method records how a status was set.
type Method string

const (
	MethodScan             Method = "scan"
	MethodOverride         Method = "override"
	MethodMissedSubmission Method = "missed_submission"
)

// OverrideMeta is attached to records written by a faculty override.
type OverrideMeta struct {
	FacultyID string
	Reason    string
	Evidence  string
	At        time.Time
}

// Record is one student's attendance in one session.
type Record struct {
	ID        string
	StudentID string
	SessionID string

	Status       Status
	Method       Method
	MarkedAt     time.Time
	MarkingDelay time.Duration
	DeviceID     string

	Override *OverrideMeta

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DelayMinutes is MarkingDelay in whole minutes.
func (r Record) DelayMinutes() int {
	return int(r.MarkingDelay / time.Minute)
}

// MarkingDelay is max(0, markedAt - start).
func MarkingDelay(start, markedAt time.Time) time.Duration {
	if d := markedAt.Sub(start); d > 0 {
		return d
	}
	return 0
}

// RecordResult is the outcome of an insert-if-absent.
type RecordResult struct {
	Record Record

	// Duplicated is true when Record is the pre-existing row.
	Duplicated bool
}
