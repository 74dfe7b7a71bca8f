package identity

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestInMemoryRoster_EnrollWithdraw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := NewInMemoryRoster()

	n, err := r.Enroll(ctx, " CSE-A ", []string{"stu-2", "stu-1", " stu-1 ", ""}, now)
	if err != nil || n != 2 {
		t.Fatalf("Enroll: n=%d err=%v", n, err)
	}
	n, err = r.Enroll(ctx, "CSE-A", []string{"stu-1", "stu-3"}, now)
	if err != nil || n != 1 {
		t.Fatalf("second Enroll: n=%d err=%v", n, err)
	}

	got, err := r.Students(ctx, "CSE-A")
	if err != nil {
		t.Fatalf("Students: %v", err)
	}
	if want := []string{"stu-1", "stu-2", "stu-3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Students=%v want %v", got, want)
	}

	if err := r.Withdraw(ctx, "CSE-A", "stu-2"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if err := r.Withdraw(ctx, "CSE-A", "stu-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	empty, err := r.Students(ctx, "CSE-B")
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown class: %v %v", empty, err)
	}
}

func TestNormalizeEnroll_Rejects(t *testing.T) {
	t.Parallel()

	big := make([]string, MaxEnrollBatch+1)
	for i := range big {
		big[i] = "s"
	}
	cases := []struct {
		name     string
		class    string
		students []string
	}{
		{"blank class", " ", []string{"stu-1"}},
		{"long class", strings.Repeat("c", 65), []string{"stu-1"}},
		{"no students", "CSE-A", []string{" ", ""}},
		{"long student", "CSE-A", []string{strings.Repeat("s", 129)}},
		{"batch too large", "CSE-A", big},
	}
	for _, tc := range cases {
		if _, _, err := normalizeEnroll("test", tc.class, tc.students); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}
