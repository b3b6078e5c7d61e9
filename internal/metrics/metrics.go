// Package metrics provides Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks live websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of live websocket connections",
		},
	)

	// ConnectionsBound tracks connections with an authenticated identity.
	ConnectionsBound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_bound",
			Help: "Number of connections bound to an identity",
		},
	)

	// EventsTotal tracks inbound events by type and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound client events processed",
		},
		[]string{"type", "status"},
	)

	// DeliveriesTotal tracks outbound fan-out deliveries enqueued.
	DeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Outbound events enqueued to recipients",
		},
	)

	// StoreFailuresTotal tracks directory calls that failed.
	StoreFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_store_failures_total",
			Help: "Directory operations that returned a store error",
		},
	)

	// FramesDroppedTotal tracks inbound frames dropped as malformed.
	FramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Inbound frames dropped before dispatch",
		},
	)
)

// RecordEvent records one processed inbound event.
func RecordEvent(eventType, status string) {
	EventsTotal.WithLabelValues(eventType, status).Inc()
}
