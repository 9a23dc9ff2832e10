package pace

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultLabel  = "result"
	kindLabel    = "kind"
	outcomeLabel = "outcome"
	sourceLabel  = "source"

	resultAdmitted  = "admitted"
	resultThrottled = "throttled"
	resultRejected  = "rejected"

	outcomeInTime    = "in_time"
	outcomeOverTime  = "over_time"
	outcomeAbandoned = "abandoned"

	sourceComputed = "computed"
	sourceCached   = "cached"
)

// Metrics is the analyzer's own observability: how much of the event
// stream survives the governor, how often comparisons are served from
// cache, and how finished runs pan out.
type Metrics struct {
	observations *prometheus.CounterVec
	comparisons  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	bestRuns     prometheus.Counter
	runDuration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pace_observations_total",
			Help: "Observations pushed by the host, by admission result.",
		}, []string{kindLabel, resultLabel}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pace_comparisons_total",
			Help: "Comparison queries answered, split by cache hit vs recompute.",
		}, []string{sourceLabel}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pace_runs_finished_total",
			Help: "Runs ended, by outcome.",
		}, []string{outcomeLabel}),
		bestRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pace_best_runs_stored_total",
			Help: "Completed runs accepted by the store as a new best.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pace_run_duration_seconds",
			Help: "Total duration of finished runs.",
			// reminder: exponential buckets need a start value greater than 0
			// these give buckets of 120, 240, 480, 960, 1920, 3840 seconds
			Buckets: prometheus.ExponentialBuckets(120, 2, 6),
		}, []string{outcomeLabel}),
	}
	if reg != nil {
		reg.MustRegister(m.observations, m.comparisons, m.runsFinished, m.bestRuns, m.runDuration)
	}
	return m
}

func (m *Metrics) observation(kind, result string) {
	if m == nil {
		return
	}
	m.observations.With(prometheus.Labels{kindLabel: kind, resultLabel: result}).Inc()
}

func (m *Metrics) comparison(source string) {
	if m == nil {
		return
	}
	m.comparisons.With(prometheus.Labels{sourceLabel: source}).Inc()
}

func (m *Metrics) runFinished(outcome string, duration float64, newBest bool) {
	if m == nil {
		return
	}
	m.runsFinished.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
	m.runDuration.With(prometheus.Labels{outcomeLabel: outcome}).Observe(duration)
	if newBest {
		m.bestRuns.Inc()
	}
}
