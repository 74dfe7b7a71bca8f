package app

import (
	"context"
	"fmt"
	"time"

	"rollcall/cmd/internal/fault"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbStartup bounds how long New waits for Postgres to accept connections,
// e.g. when the database container starts alongside the service.
var dbStartup = fault.Policy{Attempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}

// NewDBPool builds the shared pgxpool and waits until it can hand out a
// connection. Migrations are applied separately (ROLLCALL_DB_MIGRATE).
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ROLLCALL_DATABASE_URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "rollcall"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := waitForDB(ctx, pool, dbStartup); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return pool, nil
}

// waitForDB pings until success or until attempts run out. Unlike fault.Do,
// refused connections are retried too.
func waitForDB(ctx context.Context, pool *pgxpool.Pool, p fault.Policy) error {
	var err error
	for i := 1; i <= p.Attempts; i++ {
		if err = PingDB(ctx, pool, 3*time.Second); err == nil || i == p.Attempts {
			return err
		}
		t := time.NewTimer(p.Backoff(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}
