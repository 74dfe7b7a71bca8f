package identity

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"rollcall/cmd/internal/pgtest"
)

func TestPostgresRoster(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	r, err := NewPostgresRoster(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresRoster: %v", err)
	}
	ctx := pgtest.Context(t)
	now := time.Now().UTC()

	n, err := r.Enroll(ctx, "CSE-A", []string{"stu-3", "stu-1", "stu-1"}, now)
	if err != nil || n != 2 {
		t.Fatalf("Enroll: n=%d err=%v", n, err)
	}
	if n, err = r.Enroll(ctx, "CSE-A", []string{"stu-1", "stu-2"}, now); err != nil || n != 1 {
		t.Fatalf("second Enroll: n=%d err=%v", n, err)
	}

	got, err := r.Students(ctx, "CSE-A")
	if err != nil {
		t.Fatalf("Students: %v", err)
	}
	if want := []string{"stu-1", "stu-2", "stu-3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Students=%v want %v", got, want)
	}

	if err := r.Withdraw(ctx, "CSE-A", "stu-3"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if err := r.Withdraw(ctx, "CSE-A", "stu-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewPostgresRoster_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresRoster(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
	if _, err := NewPostgresRoster(nil, WithSchema("bad-schema;")); err == nil {
		t.Fatalf("expected schema error")
	}
}
