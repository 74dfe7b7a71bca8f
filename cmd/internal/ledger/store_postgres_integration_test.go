package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/pgtest"
	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

func mustInsertSession(t *testing.T, pool *pgxpool.Pool, schema string, start time.Time) string {
	t.Helper()

	id, err := ids.NewULID(start)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	_, err = pool.Exec(pgtest.Context(t), `
		INSERT INTO `+pgutil.Table(schema, "sessions")+`
			(id, faculty_id, subject_code, class_name, start_time, end_time, validity_seconds)
		VALUES ($1, 'fac-1', 'CS301', 'CSE-A', $2, $3, 300)
	`, id, start, start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return id
}

func TestPostgresStore_ConcurrentScansOneRecord(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	l := newTestLedger(st)
	ctx := pgtest.Context(t)

	start := time.Now().UTC().Truncate(time.Second)
	sid := mustInsertSession(t, pool, schema, start)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		seen     = map[string]struct{}{}
	)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.RecordScan(ctx, ScanEntry{SessionID: sid, StudentID: "stu-1", DeviceID: "phone", SessionStart: start, At: start.Add(time.Duration(i) * time.Second)})
			if err != nil {
				t.Errorf("RecordScan: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			seen[res.Record.ID] = struct{}{}
			if !res.Duplicated {
				inserted++
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 || len(seen) != 1 {
		t.Fatalf("expected one insert and one record id, got %d inserts, %d ids", inserted, len(seen))
	}

	if _, err := l.RecordScan(ctx, ScanEntry{SessionID: "01J00000000000000000000000", StudentID: "stu-1", SessionStart: start, At: start}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestPostgresStore_OverrideAndMissing(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	l := newTestLedger(st)
	ctx := pgtest.Context(t)

	start := time.Now().UTC().Truncate(time.Second)
	sid := mustInsertSession(t, pool, schema, start)

	if _, err := l.RecordScan(ctx, ScanEntry{SessionID: sid, StudentID: "stu-1", DeviceID: "phone", SessionStart: start, At: start.Add(time.Minute)}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	prev, rec, err := l.ApplyOverride(ctx, OverrideEntry{
		SessionID: sid, StudentID: "stu-1", Status: StatusLate,
		SessionStart: start, At: start.Add(20 * time.Minute),
		Meta: OverrideMeta{FacultyID: "fac-1", Reason: "Arrived after roll call", Evidence: "gate-log-17"},
	})
	if err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}
	if prev != StatusPresent || rec.Status != StatusLate || rec.DeviceID != "phone" || rec.Override == nil || rec.Override.Evidence != "gate-log-17" {
		t.Fatalf("override: prev=%s rec=%+v", prev, rec)
	}

	prev, _, err = l.ApplyOverride(ctx, OverrideEntry{
		SessionID: sid, StudentID: "stu-2", Status: StatusExcused,
		SessionStart: start, At: start.Add(30 * time.Minute),
		Meta: OverrideMeta{FacultyID: "fac-1", Reason: "Approved leave of absence"},
	})
	if err != nil || prev != NotMarked {
		t.Fatalf("override new pair: prev=%s err=%v", prev, err)
	}

	n, err := l.MarkMissing(ctx, sid, start, []string{"stu-1", "stu-2", "stu-3", "stu-4"}, start.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("MarkMissing: n=%d err=%v", n, err)
	}

	list, err := l.ListBySession(ctx, sid)
	if err != nil || len(list) != 4 {
		t.Fatalf("ListBySession: %d %v", len(list), err)
	}
}

func TestPostgresStore_UpsertHookRollsBack(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	l := newTestLedger(st)
	ctx := pgtest.Context(t)

	start := time.Now().UTC().Truncate(time.Second)
	sid := mustInsertSession(t, pool, schema, start)
	if _, err := l.RecordScan(ctx, ScanEntry{SessionID: sid, StudentID: "stu-1", DeviceID: "phone", SessionStart: start, At: start}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	errAudit := errors.New("audit insert failed")
	_, _, err = l.ApplyOverride(ctx, OverrideEntry{
		SessionID: sid, StudentID: "stu-1", Status: StatusAbsent,
		SessionStart: start, At: start.Add(time.Hour),
		Meta: OverrideMeta{FacultyID: "fac-1", Reason: "Left before the practical"},
		Then: func(ctx context.Context, q pgutil.Querier, prev Status, out Record) error {
			if q == nil {
				t.Errorf("hook ran outside the transaction")
				return errAudit
			}
			var seen string
			if err := q.QueryRow(ctx, `SELECT status FROM `+pgutil.Table(schema, "attendance_records")+` WHERE id = $1`, out.ID).Scan(&seen); err != nil {
				return err
			}
			if prev != StatusPresent || seen != string(StatusAbsent) {
				t.Errorf("hook saw prev=%s row=%s", prev, seen)
			}
			return errAudit
		},
	})
	if !errors.Is(err, errAudit) {
		t.Fatalf("expected hook error, got %v", err)
	}

	got, err := l.Get(ctx, sid, "stu-1")
	if err != nil || got.Status != StatusPresent || got.Method != MethodScan {
		t.Fatalf("rolled-back override is visible: %+v %v", got, err)
	}
}
