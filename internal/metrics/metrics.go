// Package metrics provides the Prometheus collectors for the messaging server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	UsersCreatedTotal prometheus.Counter
	MessagesTotal     prometheus.Counter
	EventsTotal       *prometheus.CounterVec

	SessionsActive       prometheus.Gauge
	SessionsDroppedTotal prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dm_operations_total",
				Help: "Conversation service operations by outcome",
			},
			[]string{"operation", "status"},
		),
		UsersCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dm_users_created_total",
			Help: "Users created on first registration",
		}),
		MessagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dm_messages_total",
			Help: "Messages persisted",
		}),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dm_events_published_total",
				Help: "Events handed to the broadcaster",
			},
			[]string{"event"},
		),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "dm_sessions_active",
			Help: "Connected websocket sessions on this instance",
		}),
		SessionsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dm_sessions_dropped_total",
			Help: "Sessions dropped because their send queue was full",
		}),
	}
}

// NewNop returns collectors bound to a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}
