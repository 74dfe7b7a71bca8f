// Package attendance is the capability-checked entry point used by transports.
//
// Every Core method authorizes the caller once, pins caller-owned identifiers
// (faculty, student) to the authenticated principal, then delegates to the
// domain services. Nothing below Core knows about roles.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rollcall/cmd/identity"
	"rollcall/cmd/internal/device"
	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/metrics"
	"rollcall/cmd/internal/override"
	"rollcall/cmd/internal/scan"
	"rollcall/cmd/internal/session"
)

// ErrSessionOpen is returned by MarkMissing while the session still accepts scans.
var ErrSessionOpen = errors.New("session still accepting scans")

// ErrNoRoster is returned by roster operations when no RosterStore is wired.
var ErrNoRoster = errors.New("class rosters not configured")

// Authenticator turns a bearer token into a Principal.
type Authenticator interface {
	Principal(bearer string, now time.Time) (identity.Principal, error)
}

// Deps are the services Core delegates to. All are required except Roster,
// Metrics and Logger.
type Deps struct {
	Auth      Authenticator
	Sessions  *session.Manager
	Devices   *device.Registry
	Ledger    *ledger.Ledger
	Verifier  *scan.Verifier
	Overrides *override.Manager
	Roster    identity.RosterStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Core is the attendance facade.
type Core struct {
	auth      Authenticator
	sessions  *session.Manager
	devices   *device.Registry
	ledger    *ledger.Ledger
	verifier  *scan.Verifier
	overrides *override.Manager
	roster    identity.RosterStore
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New constructs a Core.
func New(d Deps) (*Core, error) {
	if d.Auth == nil || d.Sessions == nil || d.Devices == nil || d.Ledger == nil || d.Verifier == nil || d.Overrides == nil {
		return nil, identity.OpError{Op: "attendance.New", Kind: identity.ErrInvalidInput, Msg: "missing dependency"}
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		auth:      d.Auth,
		sessions:  d.Sessions,
		devices:   d.Devices,
		ledger:    d.Ledger,
		verifier:  d.Verifier,
		overrides: d.Overrides,
		roster:    d.Roster,
		metrics:   d.Metrics,
		log:       log,
	}, nil
}

// Authenticate verifies a bearer token at now.
func (c *Core) Authenticate(bearer string, now time.Time) (identity.Principal, error) {
	return c.auth.Principal(bearer, now)
}

// CreateSession opens a session owned by the calling faculty.
func (c *Core) CreateSession(ctx context.Context, p identity.Principal, now time.Time, in session.CreateInput) (session.Session, error) {
	if err := p.Authorize("attendance.CreateSession", identity.ActionSessionCreate); err != nil {
		return session.Session{}, err
	}
	in.FacultyID = p.UserID
	s, err := c.sessions.Create(ctx, now, in)
	if err == nil {
		c.metrics.Session("created", 1)
	}
	return s, err
}

// GetSession returns a session. Faculty see only their own.
func (c *Core) GetSession(ctx context.Context, p identity.Principal, now time.Time, id string) (session.Session, error) {
	if err := p.Authorize("attendance.GetSession", identity.ActionSessionView); err != nil {
		return session.Session{}, err
	}
	return c.visibleSession(ctx, p, now, id)
}

// ListSessions returns the calling faculty's sessions, newest first.
func (c *Core) ListSessions(ctx context.Context, p identity.Principal, now time.Time, limit int) ([]session.Session, error) {
	if err := p.Authorize("attendance.ListSessions", identity.ActionSessionManage); err != nil {
		return nil, err
	}
	return c.sessions.ListByFaculty(ctx, now, p.UserID, limit)
}

// CancelSession cancels an active session owned by the caller.
func (c *Core) CancelSession(ctx context.Context, p identity.Principal, now time.Time, id string) (session.Session, error) {
	if err := p.Authorize("attendance.CancelSession", identity.ActionSessionManage); err != nil {
		return session.Session{}, err
	}
	s, err := c.sessions.Cancel(ctx, now, id, p.UserID)
	if err == nil {
		c.metrics.Session("cancelled", 1)
	}
	return s, err
}

// CompleteSession completes an active session owned by the caller.
func (c *Core) CompleteSession(ctx context.Context, p identity.Principal, now time.Time, id string) (session.Session, error) {
	if err := p.Authorize("attendance.CompleteSession", identity.ActionSessionManage); err != nil {
		return session.Session{}, err
	}
	s, err := c.sessions.Complete(ctx, now, id, p.UserID)
	if err == nil {
		c.metrics.Session("completed", 1)
	}
	return s, err
}

// ExtendSession moves an active session's end forward by minutes.
func (c *Core) ExtendSession(ctx context.Context, p identity.Principal, now time.Time, id string, minutes int) (session.Session, error) {
	if err := p.Authorize("attendance.ExtendSession", identity.ActionSessionManage); err != nil {
		return session.Session{}, err
	}
	s, err := c.sessions.Extend(ctx, now, id, p.UserID, minutes)
	if err == nil {
		c.metrics.Session("extended", 1)
	}
	return s, err
}

// RotateToken issues a fresh QR token for an active session.
func (c *Core) RotateToken(ctx context.Context, p identity.Principal, now time.Time, id string) (session.Session, error) {
	if err := p.Authorize("attendance.RotateToken", identity.ActionSessionManage); err != nil {
		return session.Session{}, err
	}
	return c.sessions.IssueToken(ctx, now, id, p.UserID)
}

// SweepExpired expires overdue sessions. It is a system task and takes no principal.
func (c *Core) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := c.sessions.SweepExpired(ctx, now, limit)
	c.metrics.Sweep()
	c.metrics.Session("expired", n)
	return n, err
}

// Scan verifies a scan for the calling student.
func (c *Core) Scan(ctx context.Context, p identity.Principal, now time.Time, req scan.Request) (scan.Result, error) {
	if err := p.Authorize("attendance.Scan", identity.ActionAttendanceScan); err != nil {
		return scan.Result{}, err
	}
	req.StudentID = p.UserID
	return c.verifier.Verify(ctx, now, req)
}

// SessionRecords lists a session's attendance records.
func (c *Core) SessionRecords(ctx context.Context, p identity.Principal, now time.Time, sessionID string) ([]ledger.Record, error) {
	if err := p.Authorize("attendance.SessionRecords", identity.ActionAttendanceView); err != nil {
		return nil, err
	}
	if _, err := c.visibleSession(ctx, p, now, sessionID); err != nil {
		return nil, err
	}
	return c.ledger.ListBySession(ctx, sessionID)
}

// MarkMissing records roster students who never scanned as absent. The
// session must no longer accept scans. An empty roster falls back to the
// session class's enrollment list when a RosterStore is configured.
func (c *Core) MarkMissing(ctx context.Context, p identity.Principal, now time.Time, sessionID string, roster []string) (int, error) {
	if err := p.Authorize("attendance.MarkMissing", identity.ActionAttendanceClose); err != nil {
		return 0, err
	}
	s, err := c.sessions.Get(ctx, now, sessionID)
	if err != nil {
		return 0, err
	}
	if s.FacultyID != p.UserID {
		return 0, session.ErrNotOwner
	}
	if s.CanAcceptScan(now) {
		return 0, ErrSessionOpen
	}
	if len(roster) == 0 && c.roster != nil {
		if roster, err = c.roster.Students(ctx, s.ClassName); err != nil {
			return 0, err
		}
	}
	n, err := c.ledger.MarkMissing(ctx, s.ID, s.StartTime, roster, now)
	if err == nil {
		c.log.Info("attendance.missing.marked", "session_id", s.ID, "class", s.ClassName, "roster", len(roster), "absent", n)
	}
	return n, err
}

// EnrollStudents adds students to a class roster.
func (c *Core) EnrollStudents(ctx context.Context, p identity.Principal, now time.Time, className string, studentIDs []string) (int, error) {
	if err := p.Authorize("attendance.EnrollStudents", identity.ActionRosterManage); err != nil {
		return 0, err
	}
	if c.roster == nil {
		return 0, ErrNoRoster
	}
	n, err := c.roster.Enroll(ctx, className, studentIDs, now)
	if err == nil {
		c.log.Info("roster.enrolled", "class", className, "added", n, "by", p.UserID)
	}
	return n, err
}

// WithdrawStudent removes a student from a class roster.
func (c *Core) WithdrawStudent(ctx context.Context, p identity.Principal, className, studentID string) error {
	if err := p.Authorize("attendance.WithdrawStudent", identity.ActionRosterManage); err != nil {
		return err
	}
	if c.roster == nil {
		return ErrNoRoster
	}
	return c.roster.Withdraw(ctx, className, studentID)
}

// ClassRoster returns a class's enrolled students.
func (c *Core) ClassRoster(ctx context.Context, p identity.Principal, className string) ([]string, error) {
	if err := p.Authorize("attendance.ClassRoster", identity.ActionRosterView); err != nil {
		return nil, err
	}
	if c.roster == nil {
		return nil, ErrNoRoster
	}
	return c.roster.Students(ctx, className)
}

// RegisterDevice binds a device to the calling student.
func (c *Core) RegisterDevice(ctx context.Context, p identity.Principal, now time.Time, deviceID string, attrs device.Attributes) (device.Binding, bool, error) {
	if err := p.Authorize("attendance.RegisterDevice", identity.ActionDeviceRegister); err != nil {
		return device.Binding{}, false, err
	}
	return c.devices.Register(ctx, now, p.UserID, deviceID, attrs)
}

// PromoteDevice makes one of the calling student's devices primary.
func (c *Core) PromoteDevice(ctx context.Context, p identity.Principal, now time.Time, deviceID string) (device.Binding, error) {
	if err := p.Authorize("attendance.PromoteDevice", identity.ActionDeviceRegister); err != nil {
		return device.Binding{}, err
	}
	return c.devices.PromotePrimary(ctx, now, p.UserID, deviceID)
}

// Devices lists a student's bindings. Students may only list their own.
func (c *Core) Devices(ctx context.Context, p identity.Principal, studentID string) ([]device.Binding, error) {
	const op = "attendance.Devices"
	if err := p.Authorize(op, identity.ActionDeviceView); err != nil {
		return nil, err
	}
	studentID = strings.TrimSpace(studentID)
	if p.Role == identity.RoleStudent {
		if studentID != "" && studentID != p.UserID {
			return nil, identity.ForbiddenError{Op: op, Role: p.Role, Action: identity.ActionDeviceView}
		}
		studentID = p.UserID
	}
	return c.devices.ListByStudent(ctx, studentID)
}

// FlagDevice appends suspicious activity to a binding.
func (c *Core) FlagDevice(ctx context.Context, p identity.Principal, now time.Time, studentID, deviceID, kind string, sev device.Severity, detail string) (device.FlagResult, error) {
	if err := p.Authorize("attendance.FlagDevice", identity.ActionDeviceFlag); err != nil {
		return device.FlagResult{}, err
	}
	res, err := c.devices.Flag(ctx, now, studentID, deviceID, kind, sev, detail)
	if err == nil {
		c.log.Info("device.flagged.by",
			"actor_id", p.UserID,
			"role", string(p.Role),
			"student_id", studentID,
			"device_id", deviceID,
			"severity", string(sev),
		)
	}
	return res, err
}

// VerifyDevice marks a binding as verified out of band.
func (c *Core) VerifyDevice(ctx context.Context, p identity.Principal, now time.Time, studentID, deviceID string) (device.Binding, error) {
	if err := p.Authorize("attendance.VerifyDevice", identity.ActionDeviceFlag); err != nil {
		return device.Binding{}, err
	}
	return c.devices.MarkVerified(ctx, now, studentID, deviceID)
}

// Override corrects a student's attendance in a session owned by the caller.
func (c *Core) Override(ctx context.Context, p identity.Principal, now time.Time, in override.Input) (override.Outcome, error) {
	if err := p.Authorize("attendance.Override", identity.ActionOverrideCreate); err != nil {
		return override.Outcome{}, err
	}
	in.FacultyID = p.UserID
	return c.overrides.Override(ctx, now, in)
}

// OverrideQuota reports the caller's remaining overrides, optionally for a session.
func (c *Core) OverrideQuota(ctx context.Context, p identity.Principal, now time.Time, sessionID string) (override.Remaining, error) {
	if err := p.Authorize("attendance.OverrideQuota", identity.ActionOverrideCreate); err != nil {
		return override.Remaining{}, err
	}
	return c.overrides.Remaining(ctx, now, p.UserID, sessionID)
}

// OverrideLog lists a session's override entries.
func (c *Core) OverrideLog(ctx context.Context, p identity.Principal, now time.Time, sessionID string) ([]override.Entry, error) {
	if err := p.Authorize("attendance.OverrideLog", identity.ActionOverrideView); err != nil {
		return nil, err
	}
	if _, err := c.visibleSession(ctx, p, now, sessionID); err != nil {
		return nil, err
	}
	return c.overrides.ListBySession(ctx, sessionID)
}

// PendingOverrides lists entries awaiting a decision.
func (c *Core) PendingOverrides(ctx context.Context, p identity.Principal, limit int) ([]override.Entry, error) {
	if err := p.Authorize("attendance.PendingOverrides", identity.ActionOverrideDecide); err != nil {
		return nil, err
	}
	return c.overrides.Pending(ctx, limit)
}

// DecideOverride approves or rejects a pending entry.
func (c *Core) DecideOverride(ctx context.Context, p identity.Principal, now time.Time, entryID string, decision override.ApprovalStatus, note string) (override.Entry, error) {
	if err := p.Authorize("attendance.DecideOverride", identity.ActionOverrideDecide); err != nil {
		return override.Entry{}, err
	}
	return c.overrides.Decide(ctx, now, entryID, p.UserID, decision, note)
}

// visibleSession loads a session and hides other faculty's sessions.
func (c *Core) visibleSession(ctx context.Context, p identity.Principal, now time.Time, id string) (session.Session, error) {
	s, err := c.sessions.Get(ctx, now, id)
	if err != nil {
		return session.Session{}, err
	}
	if p.Role == identity.RoleFaculty && s.FacultyID != p.UserID {
		return session.Session{}, session.ErrNotOwner
	}
	return s, nil
}
