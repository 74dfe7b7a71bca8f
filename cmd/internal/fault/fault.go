// Package fault decides which failures are transient infrastructure faults
// and retries only those.
//
// Domain errors (expired token, duplicate scan, rate limit, ...) are never
// retryable: repeating the call cannot change the outcome.
package fault

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retryable reports whether err is a transient infrastructure failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"53300": // too_many_connections
			return true
		}
		// Class 08: connection exception.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy retries three times starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Backoff returns the delay before retry n (1-based): exponential from
// BaseDelay, capped at MaxDelay, with up to 50% jitter subtracted.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d - time.Duration(rand.Int64N(int64(d)/2+1))
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil || !Retryable(err) || i == attempts {
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
