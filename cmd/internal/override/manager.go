package override

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/metrics"
	"rollcall/cmd/internal/pgutil"
	"rollcall/cmd/internal/session"
	"rollcall/cmd/internal/validate"
)

// Sessions is the slice of the session manager overrides need.
type Sessions interface {
	Get(ctx context.Context, now time.Time, id string) (session.Session, error)
	RecordOverride(ctx context.Context, now time.Time, id string) (session.Session, error)
}

// Records is the slice of the ledger overrides need.
type Records interface {
	ApplyOverride(ctx context.Context, in ledger.OverrideEntry) (ledger.Status, ledger.Record, error)
}

// Input is one override request. FacultyID comes from authentication.
type Input struct {
	SessionID string        `json:"sessionId" validate:"required,notblank"`
	StudentID string        `json:"studentId" validate:"required,notblank,max=128"`
	FacultyID string        `json:"facultyId" validate:"required,notblank"`
	Status    ledger.Status `json:"status" validate:"required,oneof=present absent late excused"`
	Reason    string        `json:"reason" validate:"required,notblank"`
	Evidence  string        `json:"evidence" validate:"max=1024"`
}

// Manager applies overrides and their approval workflow.
type Manager struct {
	cfg      Config
	store    Store
	quota    QuotaCounter
	sessions Sessions
	records  Records
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager constructs a Manager. A nil quota counts from store; a nil
// logger uses slog.Default().
func NewManager(cfg Config, store Store, quota QuotaCounter, sessions Sessions, records Records, log *slog.Logger, m *metrics.Metrics) *Manager {
	if quota == nil {
		quota = NewStoreQuota(store)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, store: store, quota: quota, sessions: sessions, records: records, log: log, metrics: m}
}

// Override replaces a student's attendance for a session owned by the
// faculty, subject to the daily and per-session caps.
func (m *Manager) Override(ctx context.Context, now time.Time, in Input) (Outcome, error) {
	out, err := m.override(ctx, now, in)

	var rl RateLimitError
	switch {
	case err == nil && out.Entry.RequiresApproval:
		m.metrics.Override("pending")
	case err == nil:
		m.metrics.Override("applied")
	case errors.As(err, &rl):
		m.metrics.Override("rate_limited_" + rl.Cap)
		m.log.Info("override.rate_limited", "faculty_id", in.FacultyID, "cap", rl.Cap, "limit", rl.Limit)
	case errors.Is(err, ErrValidation):
		m.metrics.Override("invalid")
	default:
		m.metrics.Override("error")
	}
	return out, err
}

func (m *Manager) override(ctx context.Context, now time.Time, in Input) (Outcome, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.FacultyID = strings.TrimSpace(in.FacultyID)
	in.Reason = strings.TrimSpace(in.Reason)
	in.Evidence = strings.TrimSpace(in.Evidence)

	if vs := validate.Struct(in); len(vs) > 0 {
		return Outcome{}, ValidationError{Field: vs[0].Field, Rule: vs[0].Rule}
	}
	if utf8.RuneCountInString(in.Reason) > m.cfg.ReasonMax {
		return Outcome{}, ValidationError{Field: "reason", Rule: "max"}
	}

	s, err := m.sessions.Get(ctx, now, in.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if s.FacultyID != in.FacultyID {
		return Outcome{}, ErrNotOwner
	}

	// Caps: read-then-act, so concurrent overrides may overshoot slightly.
	dayStart, dayEnd := m.cfg.dayBounds(now)
	used, err := m.quota.Used(ctx, in.FacultyID, dayStart)
	if err != nil {
		return Outcome{}, err
	}
	if used >= m.cfg.DailyCap {
		return Outcome{}, RateLimitError{Cap: CapFacultyDaily, Limit: m.cfg.DailyCap, RetryAfter: dayEnd.Sub(now)}
	}
	sessionCap := m.sessionCap(s)
	if s.ManualOverrides >= sessionCap {
		return Outcome{}, RateLimitError{Cap: CapSession, Limit: sessionCap}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Outcome{}, err
	}
	diff := now.Sub(s.StartTime)
	needs := m.requiresApproval(in, diff)
	approval := ApprovalNotRequired
	if needs {
		approval = ApprovalPending
	}
	entry := Entry{
		ID:               id,
		SessionID:        s.ID,
		StudentID:        in.StudentID,
		FacultyID:        in.FacultyID,
		NewStatus:        in.Status,
		Reason:           in.Reason,
		Evidence:         in.Evidence,
		TimeDifference:   diff,
		RequiresApproval: needs,
		ApprovalStatus:   approval,
		CreatedAt:        now,
	}

	// The record change and its audit entry commit together.
	prev, rec, err := m.records.ApplyOverride(ctx, ledger.OverrideEntry{
		SessionID:    s.ID,
		StudentID:    in.StudentID,
		Status:       in.Status,
		SessionStart: s.StartTime,
		At:           now,
		Meta: ledger.OverrideMeta{
			FacultyID: in.FacultyID,
			Reason:    in.Reason,
			Evidence:  in.Evidence,
			At:        now,
		},
		Then: func(ctx context.Context, q pgutil.Querier, prev ledger.Status, _ ledger.Record) error {
			e := entry
			e.PreviousStatus = prev
			return m.store.AppendIn(ctx, q, e)
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	entry.PreviousStatus = prev

	remainingSession := sessionCap - (s.ManualOverrides + 1)
	if updated, err := m.sessions.RecordOverride(ctx, now, s.ID); err != nil {
		m.log.Warn("override.session_counter.fail", "session_id", s.ID, "err", err)
	} else {
		remainingSession = sessionCap - updated.ManualOverrides
	}
	if err := m.quota.Add(ctx, in.FacultyID, dayStart, dayEnd); err != nil {
		m.log.Warn("override.quota.fail", "faculty_id", in.FacultyID, "err", err)
	}

	m.log.Info("override.applied",
		"override_id", entry.ID,
		"session_id", s.ID,
		"student_id", in.StudentID,
		"faculty_id", in.FacultyID,
		"previous", string(prev),
		"status", string(in.Status),
		"approval", string(approval),
	)

	return Outcome{
		Record: rec,
		Entry:  entry,
		Remaining: Remaining{
			FacultyDaily: max(m.cfg.DailyCap-(used+1), 0),
			Session:      max(remainingSession, 0),
		},
	}, nil
}

// sessionCap is the session's own cap, never above the configured ceiling.
func (m *Manager) sessionCap(s session.Session) int {
	c := m.cfg.SessionCap
	if s.MaxManualOverrides > 0 && (c <= 0 || s.MaxManualOverrides < c) {
		c = s.MaxManualOverrides
	}
	return c
}

func (m *Manager) requiresApproval(in Input, sinceStart time.Duration) bool {
	switch {
	case sinceStart > m.cfg.ApprovalAge:
		return true
	case in.Status == ledger.StatusPresent && sinceStart > m.cfg.LatePresent:
		return true
	case in.Evidence == "" && m.cfg.genericReason(in.Reason):
		return true
	}
	return false
}

// Decide approves or rejects a pending entry. Repeating the same decision
// returns the entry unchanged; a conflicting one fails with ErrAlreadyDecided.
// Rejection leaves the attendance record as overridden.
func (m *Manager) Decide(ctx context.Context, now time.Time, id, approverID string, decision ApprovalStatus, note string) (Entry, error) {
	id = strings.TrimSpace(id)
	approverID = strings.TrimSpace(approverID)
	note = strings.TrimSpace(note)

	if decision != ApprovalApproved && decision != ApprovalRejected {
		return Entry{}, ValidationError{Field: "decision", Rule: "oneof"}
	}
	if approverID == "" {
		return Entry{}, ValidationError{Field: "approverId", Rule: "required"}
	}
	if utf8.RuneCountInString(note) > m.cfg.ReasonMax {
		return Entry{}, ValidationError{Field: "note", Rule: "max"}
	}

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if cur.ApprovalStatus == ApprovalNotRequired {
		return Entry{}, ErrApprovalNotRequired
	}
	if cur.FacultyID == approverID {
		return Entry{}, ErrSelfApproval
	}
	if cur.ApprovalStatus != ApprovalPending {
		return settled(cur, decision)
	}

	out, updated, err := m.store.Decide(ctx, id, decision, approverID, note, now)
	if err != nil {
		return Entry{}, err
	}
	if !updated {
		return settled(out, decision)
	}

	m.metrics.Decision(string(decision))
	m.log.Info("override.decided",
		"override_id", out.ID,
		"decision", string(decision),
		"approver_id", approverID,
	)
	return out, nil
}

func settled(e Entry, want ApprovalStatus) (Entry, error) {
	if e.ApprovalStatus == want {
		return e, nil
	}
	return Entry{}, ErrAlreadyDecided
}

// Get returns one log entry.
func (m *Manager) Get(ctx context.Context, id string) (Entry, error) {
	return m.store.Get(ctx, strings.TrimSpace(id))
}

// ListBySession returns the session's override log, oldest first.
func (m *Manager) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return m.store.ListBySession(ctx, strings.TrimSpace(sessionID))
}

// Pending returns entries awaiting a decision, oldest first.
func (m *Manager) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return m.store.Pending(ctx, limit)
}

// Remaining reports the faculty's remaining daily quota and, for sessionID,
// the session's remaining cap.
func (m *Manager) Remaining(ctx context.Context, now time.Time, facultyID, sessionID string) (Remaining, error) {
	dayStart, _ := m.cfg.dayBounds(now)
	used, err := m.quota.Used(ctx, strings.TrimSpace(facultyID), dayStart)
	if err != nil {
		return Remaining{}, err
	}
	out := Remaining{FacultyDaily: max(m.cfg.DailyCap-used, 0)}

	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		s, err := m.sessions.Get(ctx, now, sessionID)
		if err != nil {
			return Remaining{}, err
		}
		out.Session = max(m.sessionCap(s)-s.ManualOverrides, 0)
	}
	return out, nil
}
