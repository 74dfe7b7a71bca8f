package override

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaCounter tracks per-faculty daily override usage.
type QuotaCounter interface {
	// Used returns the faculty's count for the day starting at dayStart.
	Used(ctx context.Context, facultyID string, dayStart time.Time) (int, error)

	// Add counts one override; the counter may expire at dayEnd.
	Add(ctx context.Context, facultyID string, dayStart, dayEnd time.Time) error
}

// StoreQuota counts the override log itself. Add is a no-op: the appended
// entry is the count.
type StoreQuota struct {
	store Store
}

// NewStoreQuota counts usage from store.
func NewStoreQuota(store Store) StoreQuota { return StoreQuota{store: store} }

// Used counts the faculty's logged overrides for the day starting at dayStart.
func (q StoreQuota) Used(ctx context.Context, facultyID string, dayStart time.Time) (int, error) {
	return q.store.CountByFacultySince(ctx, facultyID, dayStart, dayStart.AddDate(0, 0, 1))
}

// Add is a no-op; the override log entry is the count.
func (StoreQuota) Add(context.Context, string, time.Time, time.Time) error { return nil }

// RedisQuota keeps one counter per faculty per local day, expiring at the
// end of that day. Used by multi-instance deployments that share Redis.
type RedisQuota struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisQuota counts usage in rdb under prefix (default "rollcall:override:").
func NewRedisQuota(rdb redis.Cmdable, prefix string) *RedisQuota {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rollcall:override:"
	}
	return &RedisQuota{rdb: rdb, prefix: prefix}
}

func (q *RedisQuota) key(facultyID string, dayStart time.Time) string {
	return q.prefix + facultyID + ":" + dayStart.Format("2006-01-02")
}

// Used returns the day's counter, zero when unset.
func (q *RedisQuota) Used(ctx context.Context, facultyID string, dayStart time.Time) (int, error) {
	v, err := q.rdb.Get(ctx, q.key(facultyID, dayStart)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Add increments the day's counter and expires it at dayEnd.
func (q *RedisQuota) Add(ctx context.Context, facultyID string, dayStart, dayEnd time.Time) error {
	k := q.key(facultyID, dayStart)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, k)
		p.ExpireAt(ctx, k, dayEnd)
		return nil
	})
	return err
}
