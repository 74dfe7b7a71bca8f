// Package metrics defines Rollcall's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so domain services can take it
// as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rollcall"

// Metrics groups the collectors registered by New.
type Metrics struct {
	scans       *prometheus.CounterVec
	scanLatency prometheus.Histogram
	overrides   *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	deviceFlags *prometheus.CounterVec
	sessions    *prometheus.CounterVec
	sweeps      prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg skips registration (useful in tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan verifications by result.",
		}, []string{"result"}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Scan verification latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overrides_total",
			Help:      "Manual override attempts by result.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_decisions_total",
			Help:      "Override approval decisions.",
		}, []string{"decision"}),
		deviceFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_flags_total",
			Help:      "Suspicious device activity entries by kind and severity.",
		}, []string{"kind", "severity"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeper runs.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.scans, m.scanLatency, m.overrides, m.decisions, m.deviceFlags, m.sessions, m.sweeps)
	}
	return m
}

// ObserveScan records a scan outcome and its latency.
func (m *Metrics) ObserveScan(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
	m.scanLatency.Observe(took.Seconds())
}

// Override records an override attempt outcome.
func (m *Metrics) Override(result string) {
	if m == nil {
		return
	}
	m.overrides.WithLabelValues(result).Inc()
}

// Decision records an approval decision.
func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// DeviceFlag records a suspicious activity entry.
func (m *Metrics) DeviceFlag(kind, severity string) {
	if m == nil {
		return
	}
	m.deviceFlags.WithLabelValues(kind, severity).Inc()
}

// Session records a lifecycle event (created, cancelled, completed, extended, expired).
func (m *Metrics) Session(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessions.WithLabelValues(event).Add(float64(n))
}

// Sweep records one sweeper run.
func (m *Metrics) Sweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}
