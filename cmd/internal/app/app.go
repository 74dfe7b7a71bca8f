// Package app wires the Rollcall runtime: config, logging, storage, the
// attendance core, health/metrics HTTP and the expiry sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"rollcall/cmd/internal/attendance"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Rollcall runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool
	redis     *redis.Client

	registry *prometheus.Registry
	core     *attendance.Core
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := newRegistry()
	core, err := newCore(cfg, log, b, reg)
	if err != nil {
		_ = b.closer.Close(ctx)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     b.closer,
		dbPool:    b.pool,
		dbEnabled: b.pool != nil,
		redis:     b.redis,
		registry:  reg,
		core:      core,
	}, nil
}

// Core returns the attendance facade for transports.
func (a *App) Core() *attendance.Core { return a.core }

// Run starts the HTTP server and sweeper and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.redis != nil)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweeper(sweepCtx, a.core, a.cfg.SweepInterval, a.cfg.SweepBatch, a.log)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	stopSweep()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	// Close store resources (pool, redis).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	if runErr == nil {
		a.log.Info("server.stopped")
	}
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
