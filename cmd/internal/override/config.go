package override

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines override caps and approval rules.
type Config struct {
	// DailyCap is the per-faculty override cap per local calendar day.
	DailyCap int

	// SessionCap is the ceiling for every session; a session may carry a
	// lower cap of its own.
	SessionCap int

	// ReasonMax bounds the reason length in characters.
	ReasonMax int

	// ApprovalAge: overrides made longer than this after session start need approval.
	ApprovalAge time.Duration

	// LatePresent: marking present longer than this after start needs approval.
	LatePresent time.Duration

	// GenericReasons need evidence or approval. Matching is case-insensitive.
	GenericReasons []string

	// MinSpecificReason: reasons shorter than this count as generic.
	MinSpecificReason int

	// Zone defines the calendar day for DailyCap.
	Zone *time.Location
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DailyCap:          10,
		SessionCap:        5,
		ReasonMax:         500,
		ApprovalAge:       24 * time.Hour,
		LatePresent:       time.Hour,
		GenericReasons:    []string{"other", "n/a", "na", "forgot", "mistake", "correction", "error"},
		MinSpecificReason: 10,
		Zone:              time.UTC,
	}
}

// LoadConfigFromEnv loads override configuration from environment variables.
//
// Optional:
//   - ROLLCALL_OVERRIDE_DAILY_CAP
//   - ROLLCALL_OVERRIDE_SESSION_CAP
//   - ROLLCALL_OVERRIDE_REASON_MAX
//   - ROLLCALL_OVERRIDE_APPROVAL_AGE
//   - ROLLCALL_OVERRIDE_LATE_PRESENT
//   - ROLLCALL_TIMEZONE (IANA name; default UTC)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		dst      *int
		min, max int
	}{
		{"ROLLCALL_OVERRIDE_DAILY_CAP", &cfg.DailyCap, 1, 1000},
		{"ROLLCALL_OVERRIDE_SESSION_CAP", &cfg.SessionCap, 1, 100},
		{"ROLLCALL_OVERRIDE_REASON_MAX", &cfg.ReasonMax, 20, 4000},
	}
	for _, it := range ints {
		v := strings.TrimSpace(os.Getenv(it.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < it.min || n > it.max {
			return Config{}, ErrConfig
		}
		*it.dst = n
	}

	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"ROLLCALL_OVERRIDE_APPROVAL_AGE", &cfg.ApprovalAge},
		{"ROLLCALL_OVERRIDE_LATE_PRESENT", &cfg.LatePresent},
	}
	for _, it := range durs {
		v := strings.TrimSpace(os.Getenv(it.key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return Config{}, ErrConfig
		}
		*it.dst = d
	}

	if v := strings.TrimSpace(os.Getenv("ROLLCALL_TIMEZONE")); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.Zone = loc
	}

	return cfg, nil
}

func (c Config) zone() *time.Location {
	if c.Zone == nil {
		return time.UTC
	}
	return c.Zone
}

// dayBounds returns the local calendar day containing now.
func (c Config) dayBounds(now time.Time) (start, end time.Time) {
	local := now.In(c.zone())
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}

// genericReason reports whether reason is too vague to stand without evidence.
func (c Config) genericReason(reason string) bool {
	r := strings.ToLower(strings.TrimSpace(reason))
	if len([]rune(r)) < c.MinSpecificReason {
		return true
	}
	for _, g := range c.GenericReasons {
		if r == strings.ToLower(g) {
			return true
		}
	}
	return false
}
