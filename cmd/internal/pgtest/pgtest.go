// Package pgtest opens Postgres for integration tests.
//
// Integration tests are opt-in and require ROLLCALL_DATABASE_URL. Outside CI,
// an unreachable database skips instead of failing so local runs stay fast.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the connection string used by integration tests.
const EnvDatabaseURL = "ROLLCALL_DATABASE_URL"

// Open returns a pool closed on test cleanup, or skips the test.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvDatabaseURL, err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	t.Cleanup(pool.Close)
	return pool
}

// Schema creates a throwaway schema with all migrations applied and drops it
// on cleanup.
func Schema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	name := "rollcall_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := schema.Up(ctx, pool, name); err != nil {
		t.Fatalf("migrate %s: %v", name, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{name}.Sanitize()+` CASCADE`)
	})
	return name
}

// ShouldSkip reports whether err looks like an unreachable database outside CI.
func ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

// Context returns a context bounded for a single integration test body.
func Context(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}
