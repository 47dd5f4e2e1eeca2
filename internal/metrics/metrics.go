package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters recorded during a scenario run.
type Metrics struct {
	registry *prometheus.Registry

	StepsSent      prometheus.Counter
	SendFailures   prometheus.Counter
	LaunchFailures prometheus.Counter
	ForcedKills    prometheus.Counter
	Inspections    *prometheus.CounterVec
	StepWait       prometheus.Histogram
	SessionActive  prometheus.Gauge
}

// New creates the metrics on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.StepsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harness_steps_sent_total",
			Help: "Commands successfully written to the child",
		},
	)

	m.SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harness_send_failures_total",
			Help: "Commands that could not be written to the child",
		},
	)

	m.LaunchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harness_launch_failures_total",
			Help: "Child processes that failed to start",
		},
	)

	m.ForcedKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harness_forced_kills_total",
			Help: "Sessions that had to be killed after the quit command",
		},
	)

	m.Inspections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harness_workspace_inspections_total",
			Help: "Workspace listings by outcome",
		},
		[]string{"status"},
	)

	m.StepWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harness_step_wait_seconds",
			Help:    "Time spent waiting for the child after each command",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
		},
	)

	m.SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harness_session_active",
			Help: "1 while a child session is running",
		},
	)

	m.registry.MustRegister(
		m.StepsSent,
		m.SendFailures,
		m.LaunchFailures,
		m.ForcedKills,
		m.Inspections,
		m.StepWait,
		m.SessionActive,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
