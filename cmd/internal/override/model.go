// Package override records faculty corrections to attendance.
//
// Every override replaces the student's attendance record (method override)
// and appends an audit entry. Two independent caps apply: a per-faculty daily
// cap reset at local midnight and the session's own cap. Both are read-then-act
// and can overshoot slightly under concurrent overrides; they throttle, they
// do not enforce security.
//
// Entries that look risky (old session, late "present", generic reason with no
// evidence) start pending and are approved or rejected once by someone other
// than their author. Rejection does not revert the attendance record.
package override

import (
	"time"

	"rollcall/cmd/internal/ledger"
)

// ApprovalStatus is the approval state of an entry.
type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalNotRequired ApprovalStatus = "not_required"
)

// Entry is one append-only override log entry. Only the approval fields change.
type Entry struct {
	ID        string
	SessionID string
	StudentID string
	FacultyID string

	PreviousStatus ledger.Status
	NewStatus      ledger.Status
	Reason         string
	Evidence       string

	// TimeDifference is override time minus session start.
	TimeDifference time.Duration

	RequiresApproval bool
	ApprovalStatus   ApprovalStatus
	ApproverID       string
	ApprovalNote     string
	DecidedAt        *time.Time

	CreatedAt time.Time
}

// Remaining is the quota left after an override.
type Remaining struct {
	FacultyDaily int
	Session      int
}

// Outcome is the result of a successful override.
type Outcome struct {
	Record    ledger.Record
	Entry     Entry
	Remaining Remaining
}
