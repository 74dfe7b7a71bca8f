package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to addr and verifies it answers PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	if err := PingRedis(ctx, rdb, 3*time.Second); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingRedis checks that Redis answers within timeout.
func PingRedis(parent context.Context, rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
