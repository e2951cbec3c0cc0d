// Package metrics exposes Prometheus collectors for pipeline runs and stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avatar_pipeline"

// Run outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation"
	OutcomeFatal      = "fatal_upstream"
	OutcomeInternal   = "internal"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// New registers the pipeline collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_total",
				Help:      "Number of runs that continued with a fallback value, by stage",
			},
			[]string{"stage"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of pipeline runs in flight",
			},
		),
	}
}

// RunStarted increments the in-flight gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}

	m.activeRuns.Inc()
}

// RunFinished decrements the in-flight gauge and counts the outcome.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}

	m.activeRuns.Dec()
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// StageDegraded counts a stage that fell back to a substitute value.
func (m *Metrics) StageDegraded(stage string) {
	if m == nil {
		return
	}

	m.degraded.WithLabelValues(stage).Inc()
}
