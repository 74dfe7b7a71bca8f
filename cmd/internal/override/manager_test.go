package override

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/metrics"
	"rollcall/cmd/internal/pgutil"
	"rollcall/cmd/internal/qrtoken"
	"rollcall/cmd/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSessions struct {
	mu sync.Mutex
	m  map[string]session.Session
}

func (f *fakeSessions) Get(_ context.Context, _ time.Time, id string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) RecordOverride(_ context.Context, _ time.Time, id string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	s.ManualOverrides++
	f.m[id] = s
	return s, nil
}

func (f *fakeSessions) add(id, facultyID string, start time.Time, maxOverrides int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[id] = session.Session{
		ID:                 id,
		FacultyID:          facultyID,
		StartTime:          start,
		EndTime:            start.Add(5 * time.Minute),
		Status:             session.StatusCompleted,
		MaxManualOverrides: maxOverrides,
	}
}

type harness struct {
	sessions *fakeSessions
	ledger   *ledger.Ledger
	store    *InMemoryStore
	mgr      *Manager
	reg      *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	h := &harness{
		sessions: &fakeSessions{m: map[string]session.Session{}},
		ledger:   ledger.New(ledger.NewInMemoryStore(), log),
		store:    NewInMemoryStore(),
		reg:      reg,
	}
	h.mgr = NewManager(DefaultConfig(), h.store, nil, h.sessions, h.ledger, log, metrics.New(reg))
	return h
}

var baseNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func specific(sessionID, studentID, facultyID string) Input {
	return Input{
		SessionID: sessionID,
		StudentID: studentID,
		FacultyID: facultyID,
		Status:    ledger.StatusLate,
		Reason:    "Arrived after roll call with a gate pass",
		Evidence:  "gate-pass-" + studentID,
	}
}

func TestOverride_ReplacesRecordAndLogs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	start := baseNow.Add(-10 * time.Minute)
	h.sessions.add("s1", "fac-1", start, 5)

	if _, err := h.ledger.RecordScan(ctx, ledger.ScanEntry{SessionID: "s1", StudentID: "stu-1", DeviceID: "phone", SessionStart: start, At: start.Add(time.Minute)}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	out, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-1"))
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if out.Record.Status != ledger.StatusLate || out.Record.Method != ledger.MethodOverride || out.Record.DeviceID != "phone" {
		t.Fatalf("unexpected record: %+v", out.Record)
	}
	if out.Entry.PreviousStatus != ledger.StatusPresent || out.Entry.NewStatus != ledger.StatusLate {
		t.Fatalf("unexpected entry statuses: %+v", out.Entry)
	}
	if out.Entry.RequiresApproval || out.Entry.ApprovalStatus != ApprovalNotRequired {
		t.Fatalf("specific recent override should not need approval: %+v", out.Entry)
	}
	if out.Entry.TimeDifference != 10*time.Minute {
		t.Fatalf("TimeDifference=%v", out.Entry.TimeDifference)
	}
	if out.Remaining != (Remaining{FacultyDaily: 9, Session: 4}) {
		t.Fatalf("Remaining=%+v", out.Remaining)
	}

	// New pair: previous is not_marked.
	out, err = h.mgr.Override(ctx, baseNow, specific("s1", "stu-2", "fac-1"))
	if err != nil || out.Entry.PreviousStatus != ledger.NotMarked {
		t.Fatalf("expected not_marked previous, got %+v err=%v", out.Entry, err)
	}

	log, err := h.mgr.ListBySession(ctx, "s1")
	if err != nil || len(log) != 2 {
		t.Fatalf("ListBySession: %d %v", len(log), err)
	}
	want := `
# HELP rollcall_overrides_total Manual override attempts by result.
# TYPE rollcall_overrides_total counter
rollcall_overrides_total{result="applied"} 2
`
	if err := testutil.GatherAndCompare(h.reg, strings.NewReader(want), "rollcall_overrides_total"); err != nil {
		t.Fatal(err)
	}
}

func TestOverride_DailyCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		h.sessions.add(fmt.Sprintf("s%d", i), "fac-1", baseNow.Add(-30*time.Minute), 5)
	}

	for i := 0; i < 10; i++ {
		sid := fmt.Sprintf("s%d", i/5+1)
		if _, err := h.mgr.Override(ctx, baseNow.Add(time.Duration(i)*time.Second), specific(sid, fmt.Sprintf("stu-%d", i), "fac-1")); err != nil {
			t.Fatalf("override %d: %v", i+1, err)
		}
	}

	_, err := h.mgr.Override(ctx, baseNow.Add(time.Minute), specific("s3", "stu-x", "fac-1"))
	var rl RateLimitError
	if !errors.As(err, &rl) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Cap != CapFacultyDaily || rl.Limit != 10 {
		t.Fatalf("unexpected cap: %+v", rl)
	}
	if rl.RetryAfter != 14*time.Hour-time.Minute {
		t.Fatalf("RetryAfter=%v want until midnight", rl.RetryAfter)
	}

	// The rejected override changed nothing.
	if _, err := h.ledger.Get(ctx, "s3", "stu-x"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("rate-limited override must not write a record, got %v", err)
	}

	// A new local day resets the quota.
	if _, err := h.mgr.Override(ctx, baseNow.Add(24*time.Hour), specific("s3", "stu-x", "fac-1")); err != nil {
		t.Fatalf("next-day override: %v", err)
	}

	// Other faculty are unaffected.
	h.sessions.add("s9", "fac-2", baseNow.Add(-30*time.Minute), 5)
	if _, err := h.mgr.Override(ctx, baseNow.Add(time.Minute), specific("s9", "stu-1", "fac-2")); err != nil {
		t.Fatalf("fac-2 override: %v", err)
	}
}

func TestOverride_SessionCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("s1", "fac-1", baseNow.Add(-30*time.Minute), 5)
	h.sessions.add("s2", "fac-1", baseNow.Add(-30*time.Minute), 0)

	for i := 0; i < 5; i++ {
		if _, err := h.mgr.Override(ctx, baseNow, specific("s1", fmt.Sprintf("stu-%d", i), "fac-1")); err != nil {
			t.Fatalf("override %d: %v", i+1, err)
		}
	}
	_, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-6", "fac-1"))
	var rl RateLimitError
	if !errors.As(err, &rl) || rl.Cap != CapSession || rl.Limit != 5 || rl.RetryAfter != 0 {
		t.Fatalf("expected session cap, got %v (%+v)", err, rl)
	}

	// A session without its own cap falls back to the configured default.
	rem, err := h.mgr.Remaining(ctx, baseNow, "fac-1", "s2")
	if err != nil || rem != (Remaining{FacultyDaily: 5, Session: 5}) {
		t.Fatalf("Remaining=%+v err=%v", rem, err)
	}
}

type plainEncoder struct{}

func (plainEncoder) Encode(p qrtoken.Payload) (string, error) {
	return p.SessionID + "." + p.Nonce, nil
}

func TestOverride_ConfiguredSessionCapBoundsCreatedSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(session.DefaultConfig(), session.NewInMemoryStore(), plainEncoder{}, log)
	s, err := sessions.Create(ctx, baseNow.Add(-30*time.Minute), session.CreateInput{
		FacultyID:       "fac-1",
		SubjectCode:     "CS301",
		ClassName:       "CSE-A",
		ValidityMinutes: 5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.MaxManualOverrides <= 2 {
		t.Fatalf("session default cap %d should exceed the configured ceiling", s.MaxManualOverrides)
	}

	cfg := DefaultConfig()
	cfg.SessionCap = 2
	l := ledger.New(ledger.NewInMemoryStore(), log)
	mgr := NewManager(cfg, NewInMemoryStore(), nil, sessions, l, log, metrics.New(prometheus.NewRegistry()))

	for i := 0; i < 2; i++ {
		if _, err := mgr.Override(ctx, baseNow, specific(s.ID, fmt.Sprintf("stu-%d", i), "fac-1")); err != nil {
			t.Fatalf("override %d: %v", i+1, err)
		}
	}
	_, err = mgr.Override(ctx, baseNow, specific(s.ID, "stu-9", "fac-1"))
	var rl RateLimitError
	if !errors.As(err, &rl) || rl.Cap != CapSession || rl.Limit != 2 {
		t.Fatalf("expected session cap of 2, got %v (%+v)", err, rl)
	}

	rem, err := mgr.Remaining(ctx, baseNow, "fac-1", s.ID)
	if err != nil || rem.Session != 0 {
		t.Fatalf("Remaining=%+v err=%v", rem, err)
	}

	// A session asking for fewer overrides keeps its own lower cap.
	h := newHarness(t)
	h.sessions.add("tight", "fac-1", baseNow.Add(-30*time.Minute), 1)
	if _, err := h.mgr.Override(ctx, baseNow, specific("tight", "stu-1", "fac-1")); err != nil {
		t.Fatalf("first override: %v", err)
	}
	if _, err := h.mgr.Override(ctx, baseNow, specific("tight", "stu-2", "fac-1")); !errors.As(err, &rl) || rl.Limit != 1 {
		t.Fatalf("expected session cap of 1, got %v", err)
	}
}

type unavailableLog struct {
	*InMemoryStore
}

var errLogDown = errors.New("override log unavailable")

func (unavailableLog) AppendIn(context.Context, pgutil.Querier, Entry) error { return errLogDown }

func TestOverride_FailedAuditLeavesRecordUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &fakeSessions{m: map[string]session.Session{}}
	start := baseNow.Add(-10 * time.Minute)
	sessions.add("s1", "fac-1", start, 5)
	l := ledger.New(ledger.NewInMemoryStore(), log)
	store := unavailableLog{NewInMemoryStore()}
	mgr := NewManager(DefaultConfig(), store, nil, sessions, l, log, metrics.New(prometheus.NewRegistry()))

	if _, err := l.RecordScan(ctx, ledger.ScanEntry{SessionID: "s1", StudentID: "stu-1", DeviceID: "phone", SessionStart: start, At: start}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	if _, err := mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-1")); !errors.Is(err, errLogDown) {
		t.Fatalf("expected log failure, got %v", err)
	}
	got, err := l.Get(ctx, "s1", "stu-1")
	if err != nil || got.Status != ledger.StatusPresent || got.Method != ledger.MethodScan {
		t.Fatalf("record replaced without an audit entry: %+v %v", got, err)
	}

	if _, err := mgr.Override(ctx, baseNow, specific("s1", "stu-2", "fac-1")); !errors.Is(err, errLogDown) {
		t.Fatalf("expected log failure, got %v", err)
	}
	if _, err := l.Get(ctx, "s1", "stu-2"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("record created without an audit entry: %v", err)
	}

	cur, _ := sessions.Get(ctx, baseNow, "s1")
	if cur.ManualOverrides != 0 {
		t.Fatalf("session counter bumped for a failed override: %d", cur.ManualOverrides)
	}
	rem, err := mgr.Remaining(ctx, baseNow, "fac-1", "s1")
	if err != nil || rem != (Remaining{FacultyDaily: 10, Session: 5}) {
		t.Fatalf("Remaining=%+v err=%v", rem, err)
	}
}

func TestOverride_Rejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("s1", "fac-1", baseNow.Add(-30*time.Minute), 5)

	bad := specific("s1", "stu-1", "fac-1")
	bad.Status = "maybe"
	var ve ValidationError
	if _, err := h.mgr.Override(ctx, baseNow, bad); !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}

	long := specific("s1", "stu-1", "fac-1")
	long.Reason = strings.Repeat("x", 501)
	if _, err := h.mgr.Override(ctx, baseNow, long); !errors.As(err, &ve) || ve.Field != "reason" {
		t.Fatalf("expected reason validation error, got %v", err)
	}

	blank := specific("s1", "stu-1", "fac-1")
	blank.Reason = "   "
	if _, err := h.mgr.Override(ctx, baseNow, blank); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank reason, got %v", err)
	}

	if _, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-2")); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := h.mgr.Override(ctx, baseNow, specific("nope", "stu-1", "fac-1")); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
}

func TestOverride_ApprovalRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("recent", "fac-1", baseNow.Add(-30*time.Minute), 20)
	h.sessions.add("hour", "fac-1", baseNow.Add(-90*time.Minute), 20)

	cases := []struct {
		name string
		sid  string
		in   func(Input) Input
		want bool
	}{
		{"specific with evidence", "recent", func(in Input) Input { return in }, false},
		{"generic without evidence", "recent", func(in Input) Input { in.Reason, in.Evidence = "forgot", ""; return in }, true},
		{"generic with evidence", "recent", func(in Input) Input { in.Reason = "Mistake"; return in }, false},
		{"short without evidence", "recent", func(in Input) Input { in.Reason, in.Evidence = "late bus", ""; return in }, true},
		{"present after an hour", "hour", func(in Input) Input { in.Status = ledger.StatusPresent; return in }, true},
		{"late after an hour", "hour", func(in Input) Input { return in }, false},
	}
	for i, tc := range cases {
		in := tc.in(specific(tc.sid, fmt.Sprintf("stu-%d", i), "fac-1"))
		out, err := h.mgr.Override(ctx, baseNow, in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out.Entry.RequiresApproval != tc.want {
			t.Fatalf("%s: RequiresApproval=%v want %v", tc.name, out.Entry.RequiresApproval, tc.want)
		}
		wantStatus := ApprovalNotRequired
		if tc.want {
			wantStatus = ApprovalPending
		}
		if out.Entry.ApprovalStatus != wantStatus {
			t.Fatalf("%s: ApprovalStatus=%s", tc.name, out.Entry.ApprovalStatus)
		}
	}
}

func TestDecide_OldSessionScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	start := baseNow.Add(-50 * time.Hour)
	h.sessions.add("s1", "fac-1", start, 5)

	out, err := h.mgr.Override(ctx, baseNow, Input{
		SessionID: "s1",
		StudentID: "stu-1",
		FacultyID: "fac-1",
		Status:    ledger.StatusExcused,
		Reason:    "Medical emergency",
	})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if out.Entry.ApprovalStatus != ApprovalPending {
		t.Fatalf("expected pending, got %s", out.Entry.ApprovalStatus)
	}
	// The record changes immediately; approval is an audit step.
	if out.Record.Status != ledger.StatusExcused {
		t.Fatalf("record status=%s", out.Record.Status)
	}

	pending, err := h.mgr.Pending(ctx, 0)
	if err != nil || len(pending) != 1 || pending[0].ID != out.Entry.ID {
		t.Fatalf("Pending: %+v %v", pending, err)
	}

	if _, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "fac-1", ApprovalApproved, ""); !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected ErrSelfApproval, got %v", err)
	}
	if _, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "admin-1", ApprovalPending, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("deciding back to pending must fail validation, got %v", err)
	}

	decided, err := h.mgr.Decide(ctx, baseNow.Add(time.Hour), out.Entry.ID, "admin-1", ApprovalApproved, "Hospital letter seen")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.ApprovalStatus != ApprovalApproved || decided.ApproverID != "admin-1" || decided.DecidedAt == nil {
		t.Fatalf("unexpected decided entry: %+v", decided)
	}

	again, err := h.mgr.Decide(ctx, baseNow.Add(2*time.Hour), out.Entry.ID, "admin-2", ApprovalApproved, "")
	if err != nil || again.ApproverID != "admin-1" {
		t.Fatalf("repeat approve should be idempotent: %+v %v", again, err)
	}
	if _, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "admin-1", ApprovalRejected, ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}

	pending, _ = h.mgr.Pending(ctx, 0)
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %d", len(pending))
	}
	want := `
# HELP rollcall_override_decisions_total Override approval decisions.
# TYPE rollcall_override_decisions_total counter
rollcall_override_decisions_total{decision="approved"} 1
`
	if err := testutil.GatherAndCompare(h.reg, strings.NewReader(want), "rollcall_override_decisions_total"); err != nil {
		t.Fatal(err)
	}
}

func TestDecide_RejectKeepsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("s1", "fac-1", baseNow.Add(-30*time.Hour), 5)

	out, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-1"))
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if _, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "admin-1", ApprovalRejected, "No pass on file"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	rec, err := h.ledger.Get(ctx, "s1", "stu-1")
	if err != nil || rec.Status != ledger.StatusLate {
		t.Fatalf("rejection must not revert the record: %+v %v", rec, err)
	}
}

func TestDecide_NotRequiredAndMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("s1", "fac-1", baseNow.Add(-30*time.Minute), 5)

	out, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-1"))
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if _, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "admin-1", ApprovalApproved, ""); !errors.Is(err, ErrApprovalNotRequired) {
		t.Fatalf("expected ErrApprovalNotRequired, got %v", err)
	}
	if _, err := h.mgr.Decide(ctx, baseNow, "01J00000000000000000000000", "admin-1", ApprovalApproved, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecide_ConcurrentDecisionsOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.sessions.add("s1", "fac-1", baseNow.Add(-48*time.Hour), 5)

	out, err := h.mgr.Override(ctx, baseNow, specific("s1", "stu-1", "fac-1"))
	if err != nil {
		t.Fatalf("Override: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		rejected int
		conflict int
	)
	for i := 0; i < 16; i++ {
		decision := ApprovalApproved
		if i%2 == 1 {
			decision = ApprovalRejected
		}
		wg.Add(1)
		go func(d ApprovalStatus) {
			defer wg.Done()
			e, err := h.mgr.Decide(ctx, baseNow, out.Entry.ID, "admin-1", d, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrAlreadyDecided):
				conflict++
			case err != nil:
				t.Errorf("Decide: %v", err)
			case e.ApprovalStatus == ApprovalApproved:
				approved++
			default:
				rejected++
			}
		}(decision)
	}
	wg.Wait()

	if approved+rejected != 8 || conflict != 8 || (approved != 0 && rejected != 0) {
		t.Fatalf("expected one decision to win for all same-decision callers: approved=%d rejected=%d conflict=%d", approved, rejected, conflict)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ROLLCALL_OVERRIDE_DAILY_CAP", "3")
	t.Setenv("ROLLCALL_OVERRIDE_APPROVAL_AGE", "12h")
	t.Setenv("ROLLCALL_TIMEZONE", "Asia/Kolkata")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.DailyCap != 3 || cfg.ApprovalAge != 12*time.Hour || cfg.Zone.String() != "Asia/Kolkata" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	// 20:00 UTC is already the next day in Kolkata.
	start, _ := cfg.dayBounds(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	if start.Day() != 3 {
		t.Fatalf("day start=%v", start)
	}

	t.Setenv("ROLLCALL_OVERRIDE_DAILY_CAP", "0")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
