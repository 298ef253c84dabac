// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "estatechat"

// Outcome labels for Events.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeIgnored  = "ignored"
)

// Metrics groups the gateway instruments.
type Metrics struct {
	// OnlineUsers is the number of users with at least one live connection.
	OnlineUsers prometheus.Gauge

	// Connections is the number of live websocket connections.
	Connections prometheus.Gauge

	// Handshakes counts websocket handshakes by result.
	Handshakes *prometheus.CounterVec

	// Events counts inbound protocol events by type and outcome.
	Events *prometheus.CounterVec

	// Deliveries counts real-time pushes by server event type.
	Deliveries *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live connection.",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		Handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Websocket handshakes by result.",
		}, []string{"result"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound protocol events by type and outcome.",
		}, []string{"event", "outcome"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Real-time pushes to connected users by event.",
		}, []string{"event"}),
	}
}
