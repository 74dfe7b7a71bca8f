package override

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"rollcall/cmd/identity/ids"

	"github.com/redis/go-redis/v9"
)

func TestStoreQuota_CountsLocalDay(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{day.Add(-time.Second), day, day.Add(23 * time.Hour), day.AddDate(0, 0, 1)} {
		_ = st.Append(ctx, Entry{ID: string(rune('a' + i)), FacultyID: "fac-1", CreatedAt: at})
	}
	_ = st.Append(ctx, Entry{ID: "z", FacultyID: "fac-2", CreatedAt: day.Add(time.Hour)})

	q := NewStoreQuota(st)
	n, err := q.Used(ctx, "fac-1", day)
	if err != nil || n != 2 {
		t.Fatalf("Used=%d err=%v want 2", n, err)
	}
}

func TestRedisQuota(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("ROLLCALL_REDIS_ADDR"))
	if addr == "" {
		t.Skip("redis test skipped: ROLLCALL_REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	suffix, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	q := NewRedisQuota(rdb, "rollcall_it:"+suffix+":")

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	if n, err := q.Used(ctx, "fac-1", dayStart); err != nil || n != 0 {
		t.Fatalf("fresh Used=%d err=%v", n, err)
	}
	for i := 0; i < 3; i++ {
		if err := q.Add(ctx, "fac-1", dayStart, dayEnd); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if n, err := q.Used(ctx, "fac-1", dayStart); err != nil || n != 3 {
		t.Fatalf("Used=%d err=%v want 3", n, err)
	}
	if n, _ := q.Used(ctx, "fac-2", dayStart); n != 0 {
		t.Fatalf("fac-2 Used=%d", n)
	}

	ttl, err := rdb.TTL(ctx, q.key("fac-1", dayStart)).Result()
	if err != nil || ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("TTL=%v err=%v", ttl, err)
	}
	t.Cleanup(func() { _ = rdb.Del(context.Background(), q.key("fac-1", dayStart)).Err() })
}
