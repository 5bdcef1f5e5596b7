// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec
	StageAttempts     *prometheus.CounterVec
	DocumentsTotal    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	InFlight          prometheus.Gauge
	CacheLookups      *prometheus.CounterVec
	AuditFallbacks    prometheus.Counter
	OverallConfidence prometheus.Histogram
	ExportsTotal      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckflow_stage_duration_seconds",
				Help:    "Duration of pipeline stage attempts in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		StageAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_stage_attempts_total",
				Help: "Total number of pipeline stage attempts",
			},
			[]string{"stage", "status"},
		),
		DocumentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_documents_total",
				Help: "Total number of documents reaching a terminal state",
			},
			[]string{"status"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckflow_queue_depth",
				Help: "Number of admitted documents waiting for a processing slot",
			},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckflow_documents_in_flight",
				Help: "Number of documents currently being processed",
			},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_cache_lookups_total",
				Help: "Idempotency cache lookups by result",
			},
			[]string{"result"},
		),
		AuditFallbacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deckflow_audit_fallback_total",
				Help: "Audit entries written to the in-memory fallback buffer",
			},
		),
		OverallConfidence: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deckflow_overall_confidence",
				Help:    "Overall confidence of completed documents",
				Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
		),
		ExportsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_exports_total",
				Help: "Structured output exports by format and status",
			},
			[]string{"format", "status"},
		),
	}
}

func (m *Metrics) ObserveStage(stage models.Stage, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	m.StageAttempts.WithLabelValues(string(stage), status).Inc()
}

func (m *Metrics) DocumentFinished(status models.Status, confidence *float64) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(string(status)).Inc()
	if confidence != nil {
		m.OverallConfidence.Observe(*confidence)
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) SetQueue(queued, running int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(queued))
	m.InFlight.Set(float64(running))
}

func (m *Metrics) AuditFallback() {
	if m == nil {
		return
	}
	m.AuditFallbacks.Inc()
}

func (m *Metrics) Export(format string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ExportsTotal.WithLabelValues(format, status).Inc()
}
