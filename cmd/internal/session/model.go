package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled || s == StatusCompleted
}

// Session is the canonical attendance session.
type Session struct {
	ID          string
	FacultyID   string
	SubjectCode string
	ClassName   string
	Topic       string

	StartTime time.Time
	EndTime   time.Time
	Validity  time.Duration

	Status Status

	TotalScans         int
	ManualOverrides    int
	MaxManualOverrides int

	// Token is the most recently issued QR token and TokenNonce its nonce.
	Token          string
	TokenNonce     string
	TokenExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// CanAcceptScan reports whether a scan at now is within an active window.
// Both window boundaries are inclusive.
func (s Session) CanAcceptScan(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	return !now.Before(s.StartTime) && !now.After(s.EndTime)
}

// EffectiveStatus derives the status at now without mutating s.
func (s Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && now.After(s.EndTime) {
		return StatusExpired
	}
	return s.Status
}

// OverridesRemaining is the number of manual overrides still allowed.
func (s Session) OverridesRemaining() int {
	n := s.MaxManualOverrides - s.ManualOverrides
	if n < 0 {
		return 0
	}
	return n
}
