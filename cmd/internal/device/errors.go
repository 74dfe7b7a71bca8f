package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered is returned when no binding exists for (student, device).
	ErrNotRegistered = errors.New("device not registered")

	// ErrFingerprintMismatch is returned when attributes do not reproduce the stored fingerprint.
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")

	// ErrInactive is returned when the binding has been deactivated.
	ErrInactive = errors.New("device binding inactive")

	// ErrFingerprintConflict is returned when another active binding holds the fingerprint.
	ErrFingerprintConflict = errors.New("fingerprint already bound")

	// ErrRestricted is returned when a scan violates a location/time restriction.
	ErrRestricted = errors.New("scan restricted")

	// ErrInvalidInput is returned for empty identifiers or invalid policies.
	ErrInvalidInput = errors.New("invalid device input")
)

// Restriction reasons.
const (
	ReasonLocationRequired  = "location_required"
	ReasonOutsideGeoFence   = "outside_geofence"
	ReasonOutsideTimeWindow = "outside_time_window"
)

// RestrictionError names the restriction that rejected a scan.
type RestrictionError struct {
	Reason string
	Detail string
}

func (e RestrictionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrRestricted.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrRestricted.Error(), e.Reason, e.Detail)
}

func (e RestrictionError) Unwrap() error { return ErrRestricted }
