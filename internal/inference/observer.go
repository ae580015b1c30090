package inference

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/metrics"
)

// CallEvent records metadata about a single model call
type CallEvent struct {
	Task      Task
	Model     string
	Latency   time.Duration
	Success   bool
	ErrorCode string
}

// Observer receives events about model calls for logging and metrics
type Observer interface {
	OnCallComplete(event CallEvent)
}

// NoopObserver discards all events. Useful for tests.
type NoopObserver struct{}

func (NoopObserver) OnCallComplete(CallEvent) {}

// LogObserver writes call events to a structured logger
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an Observer that logs events at debug, failures at warn
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "inference").Logger()}
}

func (o *LogObserver) OnCallComplete(event CallEvent) {
	ev := o.logger.Debug()
	if !event.Success {
		ev = o.logger.Warn().Str("error_code", event.ErrorCode)
	}
	ev.Str("task", string(event.Task)).
		Str("model", event.Model).
		Dur("latency", event.Latency).
		Bool("success", event.Success).
		Msg("model call completed")
}

// MetricsObserver records call events as Prometheus metrics
type MetricsObserver struct {
	metrics *metrics.Metrics
}

// NewMetricsObserver creates an Observer backed by m
func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) OnCallComplete(event CallEvent) {
	status := "success"
	if !event.Success {
		status = event.ErrorCode
	}
	o.metrics.RecordLLMCall(string(event.Task), status, event.Latency)
}

// MultiObserver fans an event out to several observers
type MultiObserver []Observer

func (m MultiObserver) OnCallComplete(event CallEvent) {
	for _, o := range m {
		o.OnCallComplete(event)
	}
}
