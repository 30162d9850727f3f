package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session_hub"

// Metrics holds the Prometheus metrics of the session hub.
type Metrics struct {
	// Currently connected users.
	OnlineUsers prometheus.Gauge

	// Connection open/close events.
	ConnectionsTotal *prometheus.CounterVec

	// Connections that replaced a previous record for the same user.
	Replacements prometheus.Counter

	// Fan-out events accepted into a mailbox.
	Enqueued prometheus.Counter

	// Fan-out events refused because the mailbox was full.
	Dropped prometheus.Counter

	// Mailbox events written to a client.
	Delivered prometheus.Counter

	// Commands refused for lack of a worker or result permit.
	Throttled prometheus.Counter
}

// NewMetrics creates and registers the hub metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Number of currently connected users",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connection events",
		}, []string{"event"}), // event: "opened", "closed"
		Replacements: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replacements_total",
			Help:      "Total number of connections replacing a previous one",
		}),
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_enqueued_total",
			Help:      "Total number of fan-out events accepted into mailboxes",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Total number of fan-out events refused by full mailboxes",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Total number of mailbox events written to clients",
		}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Total number of commands refused by the inflight limits",
		}),
	}
}

// ConnectionOpened records a new connection.
func (m *Metrics) ConnectionOpened() {
	m.OnlineUsers.Inc()
	m.ConnectionsTotal.WithLabelValues("opened").Inc()
}

// ConnectionClosed records a finished connection.
func (m *Metrics) ConnectionClosed() {
	m.OnlineUsers.Dec()
	m.ConnectionsTotal.WithLabelValues("closed").Inc()
}

// DefaultMetrics creates metrics on the default Prometheus registry.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}
