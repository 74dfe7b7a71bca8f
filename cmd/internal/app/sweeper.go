package app

import (
	"context"
	"time"

	"rollcall/cmd/internal/fault"
)

// sessionSweeper is the slice of the attendance core the sweeper drives.
type sessionSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// runSweeper expires overdue sessions every interval until ctx is done.
// Reads already expire lazily; the sweep keeps stored status honest for
// listings and reports.
func runSweeper(ctx context.Context, s sessionSweeper, interval time.Duration, batch int, log Logger) {
	interval = nonZeroDuration(interval, time.Minute)
	batch = nonZeroInt(batch, 500)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweepOnce(ctx, s, batch, log)
		}
	}
}

func sweepOnce(ctx context.Context, s sessionSweeper, batch int, log Logger) int {
	var n int
	err := fault.Do(ctx, fault.DefaultPolicy(), func(ctx context.Context) error {
		var err error
		n, err = s.SweepExpired(ctx, time.Now().UTC(), batch)
		return err
	})
	switch {
	case err != nil && ctx.Err() == nil:
		log.Warn("sweep.fail", "err", err)
	case n > 0:
		log.Info("sweep.expired", "count", n)
	}
	return n
}
