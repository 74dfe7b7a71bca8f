// Package scan verifies a student's QR scan and records attendance.
//
// Verify runs, in order: token decode, session lookup, session window check,
// restriction policy, device binding check, duplicate fast-fail, and the
// ledger insert. The ledger's (student, session) uniqueness is what makes
// concurrent scans safe; the duplicate lookup only saves work.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rollcall/cmd/internal/device"
	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/metrics"
	"rollcall/cmd/internal/qrtoken"
	"rollcall/cmd/internal/session"
)

// TokenDecoder decodes QR tokens.
type TokenDecoder interface {
	Decode(token string, now time.Time) (qrtoken.Payload, error)
}

// Sessions is the slice of the session manager the verifier needs.
type Sessions interface {
	Get(ctx context.Context, now time.Time, id string) (session.Session, error)
	RecordScan(ctx context.Context, now time.Time, id string) error
}

// Devices is the slice of the device registry the verifier needs.
type Devices interface {
	Verify(ctx context.Context, now time.Time, studentID, deviceID string, attrs device.Attributes) (device.Binding, error)
	RecordUse(ctx context.Context, now time.Time, studentID, deviceID string) error
}

// Records is the slice of the ledger the verifier needs.
type Records interface {
	Get(ctx context.Context, sessionID, studentID string) (ledger.Record, error)
	RecordScan(ctx context.Context, in ledger.ScanEntry) (ledger.RecordResult, error)
}

// PolicySource returns a session's restriction policy; ok=false means none.
type PolicySource interface {
	Policy(ctx context.Context, sessionID string) (p device.Policy, ok bool, err error)
}

// Request is one scan attempt. StudentID must come from authentication, not
// from the client payload.
type Request struct {
	Token      string
	StudentID  string
	DeviceID   string
	Attributes device.Attributes
	Location   *device.Location
}

// Result is a successful or duplicate scan.
type Result struct {
	Record    ledger.Record
	Duplicate bool
	Session   session.Session
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithPolicies enables per-session restriction checks.
func WithPolicies(p PolicySource) Option { return func(v *Verifier) { v.policies = p } }

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithMetrics records scan outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(v *Verifier) { v.metrics = m } }

// Verifier orchestrates a scan.
type Verifier struct {
	tokens   TokenDecoder
	sessions Sessions
	devices  Devices
	records  Records
	policies PolicySource
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewVerifier constructs a Verifier.
func NewVerifier(tokens TokenDecoder, sessions Sessions, devices Devices, records Records, opts ...Option) *Verifier {
	v := &Verifier{
		tokens:   tokens,
		sessions: sessions,
		devices:  devices,
		records:  records,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks a scan at now and records attendance.
//
// A repeat scan returns the existing record in Result (Duplicate=true)
// together with a ledger.DuplicateScanError. Every other failure returns the
// zero Result and the typed error of the stage that rejected it.
func (v *Verifier) Verify(ctx context.Context, now time.Time, req Request) (Result, error) {
	began := time.Now()
	res, err := v.verify(ctx, now, req)

	label := resultLabel(err)
	v.metrics.ObserveScan(label, time.Since(began))

	switch {
	case err == nil:
		v.log.Info("scan.accepted",
			"session_id", res.Record.SessionID,
			"student_id", req.StudentID,
			"device_id", req.DeviceID,
			"delay_min", res.Record.DelayMinutes(),
		)
	case errors.Is(err, ledger.ErrDuplicateScan):
		v.log.Info("scan.duplicate", "session_id", res.Record.SessionID, "student_id", req.StudentID)
	case errors.Is(err, device.ErrFingerprintMismatch):
		v.log.Warn("scan.rejected", "reason", label, "student_id", req.StudentID, "device_id", req.DeviceID)
	default:
		v.log.Info("scan.rejected", "reason", label, "student_id", req.StudentID, "err", err)
	}
	return res, err
}

func (v *Verifier) verify(ctx context.Context, now time.Time, req Request) (Result, error) {
	// 1. Token: errors propagate unchanged.
	p, err := v.tokens.Decode(req.Token, now)
	if err != nil {
		return Result{}, err
	}

	studentID := strings.TrimSpace(req.StudentID)
	deviceID := strings.TrimSpace(req.DeviceID)
	if studentID == "" {
		return Result{}, ledger.ErrInvalidInput
	}

	// 2-3. Session exists and is accepting scans right now.
	s, err := v.sessions.Get(ctx, now, p.SessionID)
	if err != nil {
		return Result{}, err
	}
	if !s.CanAcceptScan(now) {
		return Result{}, fmt.Errorf("%w: %s (status %s)", session.ErrClosed, s.ID, s.Status)
	}

	// Optional location/time restriction.
	if v.policies != nil {
		pol, ok, err := v.policies.Policy(ctx, s.ID)
		if err != nil {
			return Result{}, err
		}
		if ok {
			if err := pol.Check(now, req.Location); err != nil {
				return Result{}, err
			}
		}
	}

	// 4. Device binding.
	if _, err := v.devices.Verify(ctx, now, studentID, deviceID, req.Attributes); err != nil {
		return Result{}, err
	}

	// 5. Fast-fail duplicate.
	existing, err := v.records.Get(ctx, s.ID, studentID)
	switch {
	case err == nil:
		return Result{Record: existing, Duplicate: true, Session: s}, ledger.DuplicateScanError{Existing: existing}
	case !errors.Is(err, ledger.ErrNotFound):
		return Result{}, err
	}

	// 6-7. Insert; the unique constraint decides concurrent races.
	rr, err := v.records.RecordScan(ctx, ledger.ScanEntry{
		SessionID:    s.ID,
		StudentID:    studentID,
		DeviceID:     deviceID,
		SessionStart: s.StartTime,
		At:           now,
	})
	if err != nil {
		return Result{}, err
	}
	if rr.Duplicated {
		return Result{Record: rr.Record, Duplicate: true, Session: s}, ledger.DuplicateScanError{Existing: rr.Record}
	}

	// Post-commit counters are best-effort.
	if err := v.sessions.RecordScan(ctx, now, s.ID); err != nil {
		v.log.Warn("scan.session_counter.fail", "session_id", s.ID, "err", err)
	}
	if err := v.devices.RecordUse(ctx, now, studentID, deviceID); err != nil {
		v.log.Warn("scan.device_usage.fail", "student_id", studentID, "device_id", deviceID, "err", err)
	}

	return Result{Record: rr.Record, Session: s}, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ledger.ErrDuplicateScan):
		return "duplicate"
	case errors.Is(err, qrtoken.ErrMalformed):
		return "token_malformed"
	case errors.Is(err, qrtoken.ErrSignatureInvalid):
		return "token_signature"
	case errors.Is(err, qrtoken.ErrExpired):
		return "token_expired"
	case errors.Is(err, qrtoken.ErrWrongType):
		return "token_wrong_type"
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrClosed):
		return "session_closed"
	case errors.Is(err, device.ErrRestricted):
		return "restricted"
	case errors.Is(err, device.ErrNotRegistered):
		return "device_not_registered"
	case errors.Is(err, device.ErrFingerprintMismatch):
		return "device_mismatch"
	case errors.Is(err, device.ErrInactive):
		return "device_inactive"
	case errors.Is(err, ledger.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
