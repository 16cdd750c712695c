package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"intake-chatbot/internal/core"
)

var _ core.Recorder = (*PrometheusRecorder)(nil)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveGeneration("topic", "structured", 20*time.Millisecond)
	r.ObserveGeneration("topic", "fallback", time.Millisecond)
	r.ObserveGeneration("summary", "fallback", time.Millisecond)
	r.Transition("topic(6)", "summary")
	r.ForcedAdvance(3)
	r.ForcedAdvance(3)
	r.EchoDiscarded("echo")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.generationsTotal.WithLabelValues("topic", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitionsTotal.WithLabelValues("topic(6)", "summary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.forcedAdvances.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.discardedTotal.WithLabelValues("echo")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.generationDuration))
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	live := 3
	RegisterSessionGauge(reg, func() int { return live })

	n, err := testutil.GatherAndCount(reg, "intake_live_sessions")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.Equal(t, 3.0, mfs[0].GetMetric()[0].GetGauge().GetValue())
}
