package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing, so unit tests can pass nil without touching
// the default registry.
type Metrics struct {
	SourcesProcessed      *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	OpportunitiesInserted prometheus.Counter
	BatchDuration         prometheus.Histogram
	ClassifierDuration    prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		SourcesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "oppscan_sources_processed_total",
			Help: "The total number of sources processed, by outcome",
		}, []string{"outcome"}), // 'completed', 'failed'
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "oppscan_errors_total",
			Help: "The total number of errors encountered, by type",
		}, []string{"type"}), // e.g. 'fetch_failed', 'classification_failed'
		OpportunitiesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_opportunities_inserted_total",
			Help: "The total number of opportunities written to storage",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "oppscan_batch_duration_seconds",
			Help:    "Wall-clock duration of whole batch runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ClassifierDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "oppscan_classifier_call_duration_seconds",
			Help:    "Duration of extraction-service calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncSourcesProcessed(outcome string) {
	if m == nil {
		return
	}
	m.SourcesProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) AddOpportunitiesInserted(n int) {
	if m == nil {
		return
	}
	m.OpportunitiesInserted.Add(float64(n))
}

func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveClassifierDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifierDuration.Observe(d.Seconds())
}
