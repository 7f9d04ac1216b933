// Package metrics exposes Prometheus metrics for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	PassesTotal         *prometheus.CounterVec
	PassDuration        prometheus.Histogram
	ItemsProcessedTotal prometheus.Counter
	ItemsSucceededTotal prometheus.Counter
	ItemsFailedTotal    prometheus.Counter
	QueueDepth          prometheus.Gauge
	SuitabilityScore    prometheus.Gauge
	BackoffMultiplier   prometheus.Gauge
}

// NewMetrics creates and registers all sync engine metrics.
func NewMetrics(deviceID string) *Metrics {
	labels := prometheus.Labels{"device_id": deviceID}

	return &Metrics{
		PassesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "passes_total",
			Help:        "Total number of sync passes by result",
			ConstLabels: labels,
		}, []string{"result"}),
		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "pass_duration_seconds",
			Help:        "Histogram of sync pass durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ItemsProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "items_processed_total",
			Help:        "Total queue items attempted across passes",
			ConstLabels: labels,
		}),
		ItemsSucceededTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "items_succeeded_total",
			Help:        "Total queue items confirmed by the remote authority",
			ConstLabels: labels,
		}),
		ItemsFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "items_failed_total",
			Help:        "Total queue items whose attempt failed",
			ConstLabels: labels,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fieldsync",
			Subsystem:   "queue",
			Name:        "depth",
			Help:        "Current number of durable queue records",
			ConstLabels: labels,
		}),
		SuitabilityScore: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fieldsync",
			Subsystem:   "connectivity",
			Name:        "suitability_score",
			Help:        "Current sync-suitability score (0-100)",
			ConstLabels: labels,
		}),
		BackoffMultiplier: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fieldsync",
			Subsystem:   "orchestrator",
			Name:        "backoff_multiplier",
			Help:        "Current exponential backoff multiplier",
			ConstLabels: labels,
		}),
	}
}
