// Package metrics exposes Prometheus instruments for the notification sweeps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweep kinds used as label values
const (
	KindReminder = "reminder"
	KindDigest   = "digest"
)

// Failure stages used as label values
const (
	StageUsers    = "users"
	StageEvents   = "events"
	StageDispatch = "dispatch"
)

// Metrics groups the scheduler instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sent     *prometheus.CounterVec
	failures *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

// New creates the instruments and registers them on a dedicated registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studytrack",
			Name:      "notifications_sent_total",
			Help:      "Notifications successfully handed to the dispatcher.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studytrack",
			Name:      "notification_failures_total",
			Help:      "Failures absorbed during sweeps, by stage.",
		}, []string{"kind", "stage"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studytrack",
			Name:      "sweeps_skipped_total",
			Help:      "Sweeps skipped because the previous one was still running.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studytrack",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of completed sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studytrack",
			Name:      "scheduler_running",
			Help:      "1 while the scheduler triggers are registered.",
		}),
	}

	m.registry.MustRegister(
		m.sent, m.failures, m.skipped, m.duration, m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) NotificationSent(kind string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(kind).Inc()
}

func (m *Metrics) Failure(kind, stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind, stage).Inc()
}

func (m *Metrics) SweepSkipped(kind string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SweepFinished(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
