// Package metrics provides the Prometheus metric set for the agent-lens daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drain cycle result labels.
const (
	DrainApplied = "applied"
	DrainEmpty   = "empty"
	DrainSkipped = "skipped"
	DrainError   = "error"
)

// Diff open result labels.
const (
	DiffReused  = "reused"
	DiffSpawned = "spawned"
	DiffError   = "error"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	EventsApplied      *prometheus.CounterVec
	EventParseFailures prometheus.Counter
	DrainCycles        *prometheus.CounterVec
	DrainDuration      prometheus.Histogram
	Sessions           prometheus.Gauge
	SessionsWaiting    prometheus.Gauge
	DiffServers        prometheus.Gauge
	DiffOpens          *prometheus.CounterVec
	PushSends          *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_events_applied_total",
				Help: "Events applied to the session store by kind.",
			},
			[]string{"kind"},
		),
		EventParseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_event_parse_failures_total",
				Help: "Queue lines dropped because they failed to parse.",
			},
		),
		DrainCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_drain_cycles_total",
				Help: "Drain cycles by result (applied, empty, skipped, error).",
			},
			[]string{"result"},
		),
		DrainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentlens_drain_duration_seconds",
				Help:    "Duration of non-empty drain cycles.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_sessions",
				Help: "Sessions currently tracked.",
			},
		),
		SessionsWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_sessions_waiting",
				Help: "Sessions waiting for permission or input.",
			},
		),
		DiffServers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_diff_servers",
				Help: "Live diff server child processes.",
			},
		),
		DiffOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_diff_opens_total",
				Help: "Diff open requests by result (reused, spawned, error).",
			},
			[]string{"result"},
		),
		PushSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_push_sends_total",
				Help: "Web push deliveries by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EventsApplied,
		m.EventParseFailures,
		m.DrainCycles,
		m.DrainDuration,
		m.Sessions,
		m.SessionsWaiting,
		m.DiffServers,
		m.DiffOpens,
		m.PushSends,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
