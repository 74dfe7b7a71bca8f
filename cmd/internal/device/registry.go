package device

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/metrics"
)

const maxIDLen = 128

// Registry registers and verifies device bindings.
type Registry struct {
	store   Store
	fp      Fingerprinter
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry constructs a Registry. A nil logger uses slog.Default(); nil
// metrics records nothing.
func NewRegistry(store Store, fp Fingerprinter, log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, fp: fp, log: log, metrics: m}
}

// Fingerprint returns the fingerprint for attrs.
func (r *Registry) Fingerprint(attrs Attributes) string {
	return r.fp.Generate(attrs)
}

// VerifyFingerprint reports whether attrs reproduce the binding's fingerprint.
func (r *Registry) VerifyFingerprint(b Binding, attrs Attributes) bool {
	return r.fp.Verify(b.Fingerprint, attrs)
}

func cleanIDs(studentID, deviceID string) (string, string, error) {
	studentID = strings.TrimSpace(studentID)
	deviceID = strings.TrimSpace(deviceID)
	if studentID == "" || deviceID == "" || len(studentID) > maxIDLen || len(deviceID) > maxIDLen {
		return "", "", ErrInvalidInput
	}
	return studentID, deviceID, nil
}

// Register binds deviceID to studentID. Re-registering an existing pair
// returns the stored binding unchanged with created=false.
func (r *Registry) Register(ctx context.Context, now time.Time, studentID, deviceID string, attrs Attributes) (Binding, bool, error) {
	studentID, deviceID, err := cleanIDs(studentID, deviceID)
	if err != nil {
		return Binding{}, false, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Binding{}, false, err
	}

	b, created, err := r.store.Register(ctx, Binding{
		ID:          id,
		StudentID:   studentID,
		DeviceID:    deviceID,
		Fingerprint: r.fp.Generate(attrs),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintConflict) {
			r.log.Warn("device.register.conflict", "student_id", studentID, "device_id", deviceID)
		}
		return Binding{}, false, err
	}

	if created {
		r.log.Info("device.register",
			"student_id", studentID,
			"device_id", deviceID,
			"primary", b.IsPrimary,
		)
	}
	return b, created, nil
}

// Verify checks that (student, device) is registered, active, and that attrs
// reproduce its fingerprint. A mismatch is recorded as high-severity
// suspicious activity before returning ErrFingerprintMismatch.
func (r *Registry) Verify(ctx context.Context, now time.Time, studentID, deviceID string, attrs Attributes) (Binding, error) {
	studentID, deviceID, err := cleanIDs(studentID, deviceID)
	if err != nil {
		return Binding{}, ErrNotRegistered
	}

	b, err := r.store.Get(ctx, studentID, deviceID)
	if err != nil {
		return Binding{}, err
	}
	if !b.IsActive {
		return b, ErrInactive
	}
	if !r.fp.Verify(b.Fingerprint, attrs) {
		if _, ferr := r.Flag(ctx, now, studentID, deviceID, KindFingerprintMismatch, SeverityHigh, ""); ferr != nil {
			r.log.Warn("device.flag.fail", "student_id", studentID, "device_id", deviceID, "err", ferr)
		}
		return b, ErrFingerprintMismatch
	}
	return b, nil
}

// RecordUse bumps the binding's usage count and last-used time.
func (r *Registry) RecordUse(ctx context.Context, now time.Time, studentID, deviceID string) error {
	return r.store.RecordUse(ctx, studentID, deviceID, now)
}

// Flag appends suspicious activity. A critical entry deactivates the binding;
// if it was primary, the most recently used other active binding is promoted.
func (r *Registry) Flag(ctx context.Context, now time.Time, studentID, deviceID, kind string, sev Severity, detail string) (FlagResult, error) {
	studentID, deviceID, err := cleanIDs(studentID, deviceID)
	if err != nil {
		return FlagResult{}, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" || !sev.Valid() {
		return FlagResult{}, ErrInvalidInput
	}

	entry := SuspiciousActivity{Kind: kind, Severity: sev, Detail: detail, At: now}
	res, err := r.store.Flag(ctx, studentID, deviceID, entry, sev == SeverityCritical, now)
	if err != nil {
		return FlagResult{}, err
	}

	r.metrics.DeviceFlag(kind, string(sev))
	r.log.Warn("device.flagged",
		"student_id", studentID,
		"device_id", deviceID,
		"kind", kind,
		"severity", string(sev),
		"deactivated", res.Deactivated,
		"promoted_device_id", res.PromotedDeviceID,
	)
	return res, nil
}

// PromotePrimary makes deviceID the student's only primary binding.
func (r *Registry) PromotePrimary(ctx context.Context, now time.Time, studentID, deviceID string) (Binding, error) {
	studentID, deviceID, err := cleanIDs(studentID, deviceID)
	if err != nil {
		return Binding{}, err
	}

	b, err := r.store.Promote(ctx, studentID, deviceID, now)
	if err != nil {
		return Binding{}, err
	}
	r.log.Info("device.promote", "student_id", studentID, "device_id", deviceID)
	return b, nil
}

// MarkVerified marks the binding as verified (e.g. after an out-of-band check).
func (r *Registry) MarkVerified(ctx context.Context, now time.Time, studentID, deviceID string) (Binding, error) {
	return r.store.MarkVerified(ctx, studentID, deviceID, now)
}

// ListByStudent returns all of the student's bindings, oldest first.
func (r *Registry) ListByStudent(ctx context.Context, studentID string) ([]Binding, error) {
	return r.store.ListByStudent(ctx, strings.TrimSpace(studentID))
}
