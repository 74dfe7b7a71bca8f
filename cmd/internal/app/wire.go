package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"rollcall/cmd/identity"
	"rollcall/cmd/internal/attendance"
	"rollcall/cmd/internal/device"
	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/metrics"
	"rollcall/cmd/internal/override"
	"rollcall/cmd/internal/qrtoken"
	"rollcall/cmd/internal/scan"
	"rollcall/cmd/internal/schema"
	"rollcall/cmd/internal/session"
	"rollcall/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// backends are the storage handles chosen at startup.
type backends struct {
	sessions  session.Store
	devices   device.Store
	records   ledger.Store
	overrides override.Store
	roster    identity.RosterStore

	pool   *pgxpool.Pool
	redis  *redis.Client
	closer Store
}

// openBackends decides between Postgres-backed persistence and the in-memory
// dev stores, and connects Redis when configured.
func openBackends(ctx context.Context, cfg Config, log Logger) (backends, error) {
	var b backends

	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return backends{}, err
		}
		b.redis = rdb
		log.Info("redis.enabled.override_quota", "addr", cfg.RedisAddr)
	}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		b.sessions = session.NewInMemoryStore()
		b.devices = device.NewInMemoryStore()
		b.records = ledger.NewInMemoryStore()
		b.overrides = override.NewInMemoryStore()
		b.roster = identity.NewInMemoryRoster()
		b.closer = dbStore{redis: b.redis}
		return b, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		b.closeRedis()
		return backends{}, err
	}
	fail := func(err error) (backends, error) {
		pool.Close()
		b.closeRedis()
		return backends{}, err
	}

	if cfg.DBMigrate {
		n, err := schema.Up(ctx, pool, cfg.DBSchema)
		if err != nil {
			return fail(err)
		}
		log.Info("db.migrate.done", "schema", cfg.DBSchema, "applied", n)
	}

	// Ownership model: app owns pool lifecycle; stores never close it.
	if b.sessions, err = session.NewPostgresStore(pool, session.WithSchema(cfg.DBSchema)); err != nil {
		return fail(err)
	}
	if b.devices, err = device.NewPostgresStore(pool, device.WithSchema(cfg.DBSchema)); err != nil {
		return fail(err)
	}
	if b.records, err = ledger.NewPostgresStore(pool, ledger.WithSchema(cfg.DBSchema)); err != nil {
		return fail(err)
	}
	if b.overrides, err = override.NewPostgresStore(pool, override.WithSchema(cfg.DBSchema)); err != nil {
		return fail(err)
	}
	if b.roster, err = identity.NewPostgresRoster(pool, identity.WithSchema(cfg.DBSchema)); err != nil {
		return fail(err)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	b.pool = pool
	b.closer = dbStore{pool: pool, redis: b.redis}
	return b, nil
}

func (b backends) closeRedis() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

type dbStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (s dbStore) Close(_ context.Context) error {
	var err error
	if s.redis != nil {
		err = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newCore builds the domain services over b. Without a database, missing key
// material is replaced by ephemeral keys (logged at WARN); with a database it
// is a startup error.
func newCore(cfg Config, log Logger, b backends, reg prometheus.Registerer) (*attendance.Core, error) {
	devMode := b.pool == nil
	m := metrics.New(reg)

	qcfg, err := qrtoken.LoadConfigFromEnv()
	if err != nil {
		if !devMode {
			return nil, err
		}
		log.Warn("qrtoken.ephemeral_keys", "reason", "ROLLCALL_QR_* not set; issued tokens die with this process")
		qcfg = qrtoken.DevConfig()
	}
	codec, err := qrtoken.NewCodec(qcfg)
	if err != nil {
		return nil, err
	}

	ccfg, err := identity.LoadClaimsConfigFromEnv()
	if err != nil {
		if !devMode {
			return nil, err
		}
		log.Warn("identity.ephemeral_jwt_key", "reason", "ROLLCALL_AUTH_JWT_KEY not set; no external bearer will verify")
		ccfg = identity.ClaimsConfig{Key: randomKey(), Issuer: "rollcall-auth"}
	}
	claims, err := identity.NewClaimsVerifier(ccfg)
	if err != nil {
		return nil, err
	}

	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	ocfg, err := override.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	digester := token.DigesterFromEnv()
	if !digester.Keyed() {
		log.Info("device.fingerprint.unkeyed")
	}

	sessions := session.NewManager(scfg, b.sessions, codec, log)
	devices := device.NewRegistry(b.devices, device.NewFingerprinter(digester), log, m)
	records := ledger.New(b.records, log)

	opts := []scan.Option{scan.WithLogger(log), scan.WithMetrics(m)}
	campus, fenced, err := campusPolicy(cfg)
	if err != nil {
		return nil, err
	}
	if fenced {
		log.Info("scan.geofence.enabled", "radius_m", cfg.GeofenceRadiusM)
		opts = append(opts, scan.WithPolicies(campus))
	}
	verifier := scan.NewVerifier(codec, sessions, devices, records, opts...)

	var quota override.QuotaCounter
	if b.redis != nil {
		quota = override.NewRedisQuota(b.redis, "")
	}
	overrides := override.NewManager(ocfg, b.overrides, quota, sessions, records, log, m)

	return attendance.New(attendance.Deps{
		Auth:      claims,
		Sessions:  sessions,
		Devices:   devices,
		Ledger:    records,
		Verifier:  verifier,
		Overrides: overrides,
		Roster:    b.roster,
		Metrics:   m,
		Logger:    log,
	})
}

func randomKey() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return []byte(hex.EncodeToString(b))
}
