package device

import "time"

// Severity grades a suspicious activity entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Suspicious activity kinds raised by this package.
const (
	KindFingerprintMismatch = "fingerprint_mismatch"
)

// SuspiciousActivity is one append-only entry on a binding.
type SuspiciousActivity struct {
	Kind     string    `json:"kind"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Binding associates a student with a device.
type Binding struct {
	ID          string
	StudentID   string
	DeviceID    string
	Fingerprint string

	IsPrimary  bool
	IsVerified bool
	IsActive   bool

	UsageCount int64
	LastUsedAt *time.Time
	Suspicious []SuspiciousActivity

	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
}

// FlagResult is the outcome of appending suspicious activity.
type FlagResult struct {
	Binding Binding

	// Deactivated is true when this flag turned an active binding inactive.
	Deactivated bool

	// PromotedDeviceID is the device promoted to primary after the flagged
	// primary was deactivated, or "" when none was.
	PromotedDeviceID string
}
