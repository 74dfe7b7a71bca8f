package override

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/pgtest"
	"rollcall/cmd/internal/pgutil"
)

func TestPostgresStore_LogAndDecide(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	ctx := pgtest.Context(t)

	start := time.Now().UTC().Truncate(time.Second)
	sid, err := ids.NewULID(start)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO `+pgutil.Table(schema, "sessions")+`
			(id, faculty_id, subject_code, class_name, start_time, end_time, validity_seconds)
		VALUES ($1, 'fac-1', 'CS301', 'CSE-A', $2, $3, 300)
	`, sid, start, start.Add(5*time.Minute)); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	mk := func(i int, status ApprovalStatus) Entry {
		id, err := ids.NewULID(start.Add(time.Duration(i) * time.Second))
		if err != nil {
			t.Fatalf("ulid: %v", err)
		}
		return Entry{
			ID:               id,
			SessionID:        sid,
			StudentID:        "stu-1",
			FacultyID:        "fac-1",
			PreviousStatus:   ledger.NotMarked,
			NewStatus:        ledger.StatusExcused,
			Reason:           "Medical emergency",
			TimeDifference:   50 * time.Hour,
			RequiresApproval: status == ApprovalPending,
			ApprovalStatus:   status,
			CreatedAt:        start.Add(time.Duration(i) * time.Second),
		}
	}

	pending := mk(1, ApprovalPending)
	plain := mk(2, ApprovalNotRequired)
	plain.Evidence = "doc-42"
	for _, e := range []Entry{pending, plain} {
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Get(ctx, plain.ID)
	if err != nil || got.Evidence != "doc-42" || got.TimeDifference != 50*time.Hour || got.PreviousStatus != ledger.NotMarked {
		t.Fatalf("Get: %+v %v", got, err)
	}

	n, err := st.CountByFacultySince(ctx, "fac-1", start, start.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("CountByFacultySince=%d err=%v", n, err)
	}

	list, err := st.Pending(ctx, 10)
	if err != nil || len(list) != 1 || list[0].ID != pending.ID {
		t.Fatalf("Pending: %+v %v", list, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, updated, err := st.Decide(ctx, pending.ID, ApprovalApproved, "admin-1", "ok", start.Add(time.Hour))
			if err != nil {
				t.Errorf("Decide: %v", err)
				return
			}
			if updated {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning decision, got %d", wins)
	}

	if _, err := st.Get(ctx, "01J00000000000000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := st.ListBySession(ctx, sid)
	if err != nil || len(all) != 2 || all[0].ApprovalStatus != ApprovalApproved || all[0].DecidedAt == nil {
		t.Fatalf("ListBySession: %+v %v", all, err)
	}
}
