package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTurn("greeting", "ok", 10*time.Millisecond)
	m.RecordTurn("greeting", "ok", 20*time.Millisecond)
	m.RecordTurn("", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("greeting", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("none", "error")))
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLLMCall("classify", "success", time.Millisecond)
	m.RecordLeadCapture("failure")
	m.RecordExtractionFailure()
	m.RecordRetrieval([]string{"pricing", "pricing", "policy"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("classify", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeadCapturesTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionFailuresTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetrievalTopicsTotal.WithLabelValues("pricing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalTopicsTotal.WithLabelValues("policy")))
}

func TestMetrics_ActiveTurns(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.TurnStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTurns))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveTurns))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTurn("greeting", "ok", time.Second)
		m.RecordLLMCall("respond", "error", time.Second)
		m.RecordLeadCapture("success")
		m.RecordExtractionFailure()
		m.RecordRetrieval([]string{"general"})
		m.TurnStarted()()
	})
}

func TestRegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := PoolStats{Queued: 3, Inflight: 2}

	queued, inflight := RegisterPool(reg, func() PoolStats { return stats })

	assert.Equal(t, 3.0, testutil.ToFloat64(queued))
	assert.Equal(t, 2.0, testutil.ToFloat64(inflight))

	stats = PoolStats{}
	assert.Equal(t, 0.0, testutil.ToFloat64(queued))

	n, err := testutil.GatherAndCount(reg, "leadflow_llm_queue_length", "leadflow_llm_inflight_calls")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
