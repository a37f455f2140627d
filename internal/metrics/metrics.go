// Package metrics holds the Prometheus collectors for matching runs. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Metrics bundles the collectors registered against one registry.
type Metrics struct {
	registry *prometheus.Registry

	ResolverResults        *prometheus.CounterVec
	QualificationDecisions *prometheus.CounterVec
	ReferenceGaps          *prometheus.CounterVec
	BatchDuration          prometheus.Histogram
}

// New registers the collectors against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ResolverResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "areamatch_resolver_results_total",
			Help: "Map link resolutions, labeled by outcome (resolved or failure reason).",
		}, []string{"result"}),
		QualificationDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "areamatch_qualification_decisions_total",
			Help: "Per-buyer qualification decisions, labeled by decision.",
		}, []string{"decision"}),
		ReferenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "areamatch_reference_gaps_total",
			Help: "Reference data gaps hit while computing distribution areas.",
		}, []string{"kind"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "areamatch_batch_duration_seconds",
			Help:    "Wall time of one matching batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveResolver counts one resolver outcome.
func (m *Metrics) ObserveResolver(result string) {
	if m == nil {
		return
	}
	m.ResolverResults.WithLabelValues(result).Inc()
}

// ObserveDecision counts one qualification decision.
func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.QualificationDecisions.WithLabelValues(decision).Inc()
}

// ObserveGap counts one reference data gap.
func (m *Metrics) ObserveGap(kind string) {
	if m == nil {
		return
	}
	m.ReferenceGaps.WithLabelValues(kind).Inc()
}

// ObserveBatch records the duration of a batch.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// WriteTextfile writes the current values in the node_exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
