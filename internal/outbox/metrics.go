package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outbox_notifier"

// Metrics holds the Prometheus metrics of the notifier loop.
type Metrics struct {
	// Events published successfully.
	PublishedTotal prometheus.Counter

	// Publish attempts that failed.
	PublishErrorsTotal prometheus.Counter

	// Events pushed to a later attempt.
	ReschedulesTotal prometheus.Counter

	// Size of each claimed batch.
	BatchSize prometheus.Histogram

	// Duration of one claim-publish-ack tick.
	TickDuration prometheus.Histogram
}

// NewMetrics creates and registers the notifier metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		PublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Total number of outbox events published to the broker",
		}),
		PublishErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of failed publish attempts",
		}),
		ReschedulesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedules_total",
			Help:      "Total number of events rescheduled for a later attempt",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of events claimed per tick",
			Buckets:   []float64{0, 1, 4, 16, 64, 128, 256},
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one notifier tick",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// DefaultMetrics is registered on the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
