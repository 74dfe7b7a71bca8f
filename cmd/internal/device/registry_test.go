package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rollcall/cmd/security/token"
)

func newTestRegistry(store Store) *Registry {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, NewFingerprinter(token.NewDigester(nil)), log, nil)
}

func attrsFor(n int) Attributes {
	a := sampleAttrs()
	a.UserAgent = fmt.Sprintf("%s #%d", a.UserAgent, n)
	return a
}

func countPrimaries(t *testing.T, r *Registry, studentID string) int {
	t.Helper()

	list, err := r.ListByStudent(context.Background(), studentID)
	if err != nil {
		t.Fatalf("ListByStudent: %v", err)
	}
	n := 0
	for _, b := range list {
		if b.IsPrimary {
			n++
		}
	}
	return n
}

func TestRegistry_RegisterFirstIsPrimaryAndIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(NewInMemoryStore())
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	first, created, err := r.Register(ctx, now, "stu-1", "phone", attrsFor(1))
	if err != nil || !created || !first.IsPrimary || !first.IsActive {
		t.Fatalf("first register: %+v created=%v err=%v", first, created, err)
	}

	second, created, err := r.Register(ctx, now, "stu-1", "laptop", attrsFor(2))
	if err != nil || !created || second.IsPrimary {
		t.Fatalf("second register: %+v created=%v err=%v", second, created, err)
	}

	again, created, err := r.Register(ctx, now.Add(time.Minute), "stu-1", "phone", attrsFor(99))
	if err != nil || created || again.ID != first.ID || again.Fingerprint != first.Fingerprint {
		t.Fatalf("re-register should return stored binding: %+v created=%v err=%v", again, created, err)
	}

	if _, _, err := r.Register(ctx, now, "stu-2", "tablet", attrsFor(1)); !errors.Is(err, ErrFingerprintConflict) {
		t.Fatalf("expected ErrFingerprintConflict, got %v", err)
	}
	if _, _, err := r.Register(ctx, now, " ", "tablet", attrsFor(3)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegistry_VerifyDistinguishesFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(NewInMemoryStore())
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	if _, _, err := r.Register(ctx, now, "stu-1", "phone", attrsFor(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Verify(ctx, now, "stu-1", "phone", attrsFor(1)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := r.Verify(ctx, now, "stu-1", "other", attrsFor(1)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := r.Verify(ctx, now, "stu-9", "phone", attrsFor(1)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered for another student, got %v", err)
	}

	if _, err := r.Verify(ctx, now, "stu-1", "phone", attrsFor(2)); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
	b, _ := r.store.Get(ctx, "stu-1", "phone")
	if len(b.Suspicious) != 1 || b.Suspicious[0].Kind != KindFingerprintMismatch || b.Suspicious[0].Severity != SeverityHigh {
		t.Fatalf("expected a high mismatch entry, got %+v", b.Suspicious)
	}
	if !b.IsActive {
		t.Fatalf("a high entry must not deactivate")
	}

	if _, err := r.Flag(ctx, now, "stu-1", "phone", "shared_device", SeverityCritical, "reported by faculty"); err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if _, err := r.Verify(ctx, now, "stu-1", "phone", attrsFor(1)); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestRegistry_CriticalFlagPromotesMostRecentlyUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(NewInMemoryStore())
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i, dev := range []string{"phone", "laptop", "tablet"} {
		if _, _, err := r.Register(ctx, now.Add(time.Duration(i)*time.Minute), "stu-1", dev, attrsFor(i)); err != nil {
			t.Fatalf("Register %s: %v", dev, err)
		}
	}
	if err := r.RecordUse(ctx, now.Add(time.Hour), "stu-1", "laptop"); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}

	res, err := r.Flag(ctx, now.Add(2*time.Hour), "stu-1", "phone", "proxy_attempt", SeverityCritical, "")
	if err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if !res.Deactivated || res.Binding.IsActive || res.Binding.IsPrimary || res.Binding.DeactivatedAt == nil {
		t.Fatalf("flagged binding should be deactivated and demoted: %+v", res)
	}
	if res.PromotedDeviceID != "laptop" {
		t.Fatalf("expected laptop promoted, got %q", res.PromotedDeviceID)
	}
	if n := countPrimaries(t, r, "stu-1"); n != 1 {
		t.Fatalf("expected exactly one primary, got %d", n)
	}

	// A second critical flag on an already inactive binding changes nothing else.
	res, err = r.Flag(ctx, now.Add(3*time.Hour), "stu-1", "phone", "proxy_attempt", SeverityCritical, "")
	if err != nil || res.Deactivated || res.PromotedDeviceID != "" || len(res.Binding.Suspicious) != 2 {
		t.Fatalf("repeat flag: %+v %v", res, err)
	}

	if _, err := r.PromotePrimary(ctx, now, "stu-1", "phone"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive promoting deactivated binding, got %v", err)
	}
	if _, err := r.Flag(ctx, now, "stu-1", "laptop", "x", Severity("severe"), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown severity, got %v", err)
	}
}

func TestRegistry_ConcurrentPromotionKeepsOnePrimary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(NewInMemoryStore())
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	devices := []string{"d0", "d1", "d2", "d3"}
	for i, dev := range devices {
		if _, _, err := r.Register(ctx, now, "stu-1", dev, attrsFor(i)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.PromotePrimary(ctx, now, "stu-1", devices[i%len(devices)])
		}(i)
	}
	wg.Wait()

	if n := countPrimaries(t, r, "stu-1"); n != 1 {
		t.Fatalf("expected exactly one primary, got %d", n)
	}
}

func TestRegistry_RecordUseAndMarkVerified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(NewInMemoryStore())
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	if _, _, err := r.Register(ctx, now, "stu-1", "phone", attrsFor(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.RecordUse(ctx, now.Add(time.Duration(i)*time.Minute), "stu-1", "phone"); err != nil {
			t.Fatalf("RecordUse: %v", err)
		}
	}
	b, err := r.MarkVerified(ctx, now, "stu-1", "phone")
	if err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if b.UsageCount != 3 || !b.IsVerified || b.LastUsedAt == nil || !b.LastUsedAt.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("unexpected binding: %+v", b)
	}
	if err := r.RecordUse(ctx, now, "stu-1", "nope"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}
