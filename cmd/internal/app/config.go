package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, embedded migrations run at startup.
	DBMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// RedisAddr enables the shared override quota counter.
	RedisAddr string

	SweepInterval time.Duration
	SweepBatch    int

	// Security policy:
	// If true, ROLLCALL_FINGERPRINT_KEY MUST be set (>= 32 bytes) and device
	// fingerprints are HMAC digests.
	RequireFingerprintHMAC bool

	// Optional campus geofence applied to every scan; disabled when radius is 0.
	GeofenceLat     float64
	GeofenceLng     float64
	GeofenceRadiusM float64
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("ROLLCALL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ROLLCALL_LOG_LEVEL", "info"),
		LogFormat: EnvString("ROLLCALL_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("ROLLCALL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ROLLCALL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ROLLCALL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ROLLCALL_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("ROLLCALL_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("ROLLCALL_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("ROLLCALL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ROLLCALL_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("ROLLCALL_DB_SCHEMA", "rollcall"),
		DBMigrate:   EnvBool("ROLLCALL_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("ROLLCALL_READINESS_REQUIRE_DB", false),

		RedisAddr: EnvString("ROLLCALL_REDIS_ADDR", ""),

		SweepInterval: EnvDuration("ROLLCALL_SWEEP_INTERVAL", time.Minute),
		SweepBatch:    EnvInt("ROLLCALL_SWEEP_BATCH", 500),

		RequireFingerprintHMAC: EnvBool("ROLLCALL_REQUIRE_FINGERPRINT_HMAC", false),

		GeofenceLat:     EnvFloat("ROLLCALL_GEOFENCE_LAT", 0),
		GeofenceLng:     EnvFloat("ROLLCALL_GEOFENCE_LNG", 0),
		GeofenceRadiusM: EnvFloat("ROLLCALL_GEOFENCE_RADIUS_M", 0),
	}
}
