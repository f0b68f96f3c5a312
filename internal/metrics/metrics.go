// Package metrics exposes Prometheus metrics for the pool and the extraction runner.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

const (
	// MetricsNamespace is the namespace for all service metrics.
	MetricsNamespace = "renderpool"

	subsystemPool       = "pool"
	subsystemExtraction = "extraction"
)

// Outcome labels for extraction counters
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// StatsSource is satisfied by the pool coordinator
type StatsSource interface {
	Stats() models.PoolStats
}

// Metrics holds the extraction metrics and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	ExtractionsTotal          *prometheus.CounterVec
	ExtractionDurationSeconds *prometheus.HistogramVec
	CreditsChargedTotal       *prometheus.CounterVec
	FallbacksTotal            *prometheus.CounterVec
	AllocationWaitSeconds     prometheus.Histogram
}

// New creates a registry with Go runtime collectors, the extraction
// metrics, and a pool collector reading from pool. pool may be nil.
func New(pool StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pool != nil {
		reg.MustRegister(newPoolCollector(pool))
	}

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.ExtractionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExtraction,
			Name:      "total",
			Help:      "Extraction requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.ExtractionDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExtraction,
			Name:      "duration_seconds",
			Help:      "End-to-end extraction latency including queueing",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"operation"},
	)

	m.CreditsChargedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExtraction,
			Name:      "credits_charged_total",
			Help:      "Credits reported for successful extractions",
		},
		[]string{"operation"},
	)

	m.FallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExtraction,
			Name:      "fallbacks_total",
			Help:      "Extractions served by a single-use browser",
		},
		[]string{"operation"},
	)

	m.AllocationWaitSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemPool,
			Name:      "allocation_wait_seconds",
			Help:      "Time spent waiting for a pooled session",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
	)

	return m
}

// Registry returns the registry backing m
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExtraction records one finished extraction
func (m *Metrics) ObserveExtraction(op models.OperationType, result models.ExtractionResult, elapsed time.Duration) {
	outcome := OutcomeFailure
	if result.Success {
		outcome = OutcomeSuccess
		m.CreditsChargedTotal.WithLabelValues(string(op)).Add(float64(result.CreditsCost))
	}
	m.ExtractionsTotal.WithLabelValues(string(op), outcome).Inc()
	m.ExtractionDurationSeconds.WithLabelValues(string(op)).Observe(elapsed.Seconds())
	if result.Metadata != nil && result.Metadata.Fallback {
		m.FallbacksTotal.WithLabelValues(string(op)).Inc()
	}
}

// ObserveAllocation records how long a request waited for a session
func (m *Metrics) ObserveAllocation(wait time.Duration) {
	m.AllocationWaitSeconds.Observe(wait.Seconds())
}
