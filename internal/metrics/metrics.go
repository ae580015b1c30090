// Package metrics provides Prometheus metrics for leadflow
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Model call metrics
	LLMCallsTotal   *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec

	// Lead metrics
	LeadCapturesTotal       *prometheus.CounterVec
	ExtractionFailuresTotal prometheus.Counter
	RetrievalTopicsTotal    *prometheus.CounterVec
	ActiveTurns             prometheus.Gauge
}

// New creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"intent", "outcome"},
	)

	m.TurnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_turn_duration_seconds",
			Help:    "Duration of conversation turns in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	m.LLMCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_llm_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"task", "status"},
	)

	m.LLMCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_llm_call_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task"},
	)

	m.LeadCapturesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_lead_captures_total",
			Help: "Total number of lead capture attempts by result",
		},
		[]string{"status"},
	)

	m.ExtractionFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_extraction_failures_total",
			Help: "Total number of lead field extractions that produced no usable output",
		},
	)

	m.RetrievalTopicsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_retrieval_topics_total",
			Help: "Total number of knowledge topics matched by retrieval",
		},
		[]string{"topic"},
	)

	m.ActiveTurns = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_active_turns",
			Help: "Number of turns currently being processed",
		},
	)

	return m
}

// RecordTurn records a finished turn
func (m *Metrics) RecordTurn(intent, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "none"
	}
	m.TurnsTotal.WithLabelValues(intent, outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// TurnStarted increments the in-flight gauge and returns a func that decrements it
func (m *Metrics) TurnStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveTurns.Inc()
	return m.ActiveTurns.Dec
}

// RecordLLMCall records one model call for a task
func (m *Metrics) RecordLLMCall(task, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(task, status).Inc()
	m.LLMCallDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordLeadCapture records a capture result ("success" or "failure")
func (m *Metrics) RecordLeadCapture(status string) {
	if m == nil {
		return
	}
	m.LeadCapturesTotal.WithLabelValues(status).Inc()
}

// RecordExtractionFailure counts an extraction that changed nothing because of an error
func (m *Metrics) RecordExtractionFailure() {
	if m == nil {
		return
	}
	m.ExtractionFailuresTotal.Inc()
}

// RecordRetrieval counts each matched knowledge topic
func (m *Metrics) RecordRetrieval(topics []string) {
	if m == nil {
		return
	}
	for _, t := range topics {
		m.RetrievalTopicsTotal.WithLabelValues(t).Inc()
	}
}

// PoolStats is a point-in-time view of the inference pool
type PoolStats struct {
	Queued   int
	Inflight int
}

// RegisterPool exposes inference pool gauges read from stats at scrape time
func RegisterPool(reg prometheus.Registerer, stats func() PoolStats) (queued, inflight prometheus.GaugeFunc) {
	factory := promauto.With(reg)

	queued = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "leadflow_llm_queue_length",
			Help: "Number of model calls waiting for a worker",
		},
		func() float64 { return float64(stats().Queued) },
	)

	inflight = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "leadflow_llm_inflight_calls",
			Help: "Number of model calls currently running",
		},
		func() float64 { return float64(stats().Inflight) },
	)

	return queued, inflight
}
