package override

import (
	"errors"
	"fmt"
	"time"

	"rollcall/cmd/internal/session"
)

var (
	// ErrRateLimited is returned when a daily or per-session cap is reached.
	ErrRateLimited = errors.New("override rate limited")

	// ErrValidation is returned for rejected override or decision input.
	ErrValidation = errors.New("invalid override input")

	// ErrNotFound is returned when an override log entry does not exist.
	ErrNotFound = errors.New("override entry not found")

	// ErrAlreadyDecided is returned when an entry already carries a different decision.
	ErrAlreadyDecided = errors.New("override already decided")

	// ErrApprovalNotRequired is returned when deciding an entry that never needed approval.
	ErrApprovalNotRequired = errors.New("override does not require approval")

	// ErrSelfApproval is returned when the approver authored the override.
	ErrSelfApproval = errors.New("override cannot be approved by its author")

	// ErrNotOwner is returned when the faculty does not own the session.
	ErrNotOwner = session.ErrNotOwner

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Caps named by RateLimitError.
const (
	CapFacultyDaily = "faculty_daily"
	CapSession      = "session"
)

// RateLimitError names the cap that was hit.
type RateLimitError struct {
	Cap   string
	Limit int

	// RetryAfter is the wait until the cap resets; zero when it never does.
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s cap of %d reached, retry after %s", ErrRateLimited.Error(), e.Cap, e.Limit, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s cap of %d reached", ErrRateLimited.Error(), e.Cap, e.Limit)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }

// ValidationError names the field and rule that rejected an input.
type ValidationError struct {
	Field string
	Rule  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Rule)
}

func (e ValidationError) Unwrap() error { return ErrValidation }
