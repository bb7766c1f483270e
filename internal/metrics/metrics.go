// Package metrics provides Prometheus metrics for the lead flow.
// All Record helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SubmissionsTotal   *prometheus.CounterVec
	ChatTurnsTotal     *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
	CacheTotal         *prometheus.CounterVec
	GenerationErrors   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	TransitionsTotal   *prometheus.CounterVec
	SessionsSwept      prometheus.Counter
	DBSizeBytes        prometheus.Gauge
	NotifyFailures     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_submissions_total",
				Help: "Questionnaire submissions by result.",
			},
			[]string{"result"},
		),
		ChatTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_chat_turns_total",
				Help: "Chat turns by result.",
			},
			[]string{"result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_rate_limited_total",
				Help: "Requests rejected by a rate limiter.",
			},
			[]string{"limiter"},
		),
		CacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_blueprint_cache_total",
				Help: "Blueprint cache lookups and writes by result.",
			},
			[]string{"result"},
		),
		GenerationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_generation_errors_total",
				Help: "Failed provider calls by failure class.",
			},
			[]string{"class"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_generation_duration_seconds",
				Help:    "Provider call duration by operation.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"op"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_state_transitions_total",
				Help: "Session state transitions.",
			},
			[]string{"from", "to"},
		),
		SessionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadflow_sessions_swept_total",
				Help: "Sessions deleted by the retention sweep.",
			},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadflow_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_notify_failures_total",
				Help: "Lead notifications that could not be delivered.",
			},
			[]string{"event"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SubmissionsTotal)
	reg.MustRegister(m.ChatTurnsTotal)
	reg.MustRegister(m.RateLimitedTotal)
	reg.MustRegister(m.CacheTotal)
	reg.MustRegister(m.GenerationErrors)
	reg.MustRegister(m.GenerationDuration)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.SessionsSwept)
	reg.MustRegister(m.DBSizeBytes)
	reg.MustRegister(m.NotifyFailures)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSubmission increments the submission counter.
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordChatTurn increments the chat turn counter.
func (m *Metrics) RecordChatTurn(result string) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimited increments the rejection counter for limiter.
func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// RecordCache increments the cache counter (hit, miss, stored, lost_race).
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

// RecordGenerationError increments the generation error counter.
func (m *Metrics) RecordGenerationError(class string) {
	if m == nil {
		return
	}
	m.GenerationErrors.WithLabelValues(class).Inc()
}

// ObserveGeneration records provider call duration.
func (m *Metrics) ObserveGeneration(op string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordTransition increments the transition counter.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// AddSwept adds n to the swept session counter.
func (m *Metrics) AddSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// SetDBSize records the database size in bytes.
func (m *Metrics) SetDBSize(n int64) {
	if m == nil {
		return
	}
	m.DBSizeBytes.Set(float64(n))
}

// RecordNotifyFailure increments the notification failure counter.
func (m *Metrics) RecordNotifyFailure(event string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(event).Inc()
}
