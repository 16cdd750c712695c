// Package metrics records intake engine events in Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements core.Recorder.
type PrometheusRecorder struct {
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	forcedAdvances     *prometheus.CounterVec
	discardedTotal     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the intake metrics with reg.  A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_generations_total",
				Help: "Generation calls by call site and result kind",
			},
			[]string{"call_site", "kind"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_generation_duration_seconds",
				Help:    "Duration of generation calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call_site"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_stage_transitions_total",
				Help: "Conversation stage transitions",
			},
			[]string{"from", "to"},
		),
		forcedAdvances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_forced_advances_total",
				Help: "Topics left after the retry ceiling was reached",
			},
			[]string{"topic"},
		),
		discardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_discarded_inputs_total",
				Help: "Transcribed inputs dropped before reaching the stepper",
			},
			[]string{"reason"},
		),
	}
}

// ObserveGeneration records one gateway call.
func (p *PrometheusRecorder) ObserveGeneration(site, kind string, d time.Duration) {
	p.generationsTotal.WithLabelValues(site, kind).Inc()
	p.generationDuration.WithLabelValues(site).Observe(d.Seconds())
}

// Transition counts a stage change.
func (p *PrometheusRecorder) Transition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

// ForcedAdvance counts a topic left without a sufficient answer.
func (p *PrometheusRecorder) ForcedAdvance(topic int) {
	p.forcedAdvances.WithLabelValues(strconv.Itoa(topic)).Inc()
}

// EchoDiscarded counts a dropped input.
func (p *PrometheusRecorder) EchoDiscarded(reason string) {
	p.discardedTotal.WithLabelValues(reason).Inc()
}

// RegisterSessionGauge exposes the number of live sessions.
func RegisterSessionGauge(reg prometheus.Registerer, live func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "intake_live_sessions",
		Help: "Sessions currently held in memory",
	}, func() float64 { return float64(live()) })
}
