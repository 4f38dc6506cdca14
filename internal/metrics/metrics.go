// Package metrics provides Prometheus instrumentation for the messaging
// core: connection and room gauges, message throughput counters, and
// persistence latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_connections_active",
		Help: "Current number of live WebSocket connections",
	})

	// RoomsActive tracks the number of conversation rooms with at least one
	// local subscriber.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_rooms_active",
		Help: "Conversation rooms with at least one local subscriber",
	})

	// MessagesTotal counts persisted messages, labeled by type
	// ("text", "image", "video").
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_messages_total",
		Help: "Total number of messages persisted",
	}, []string{"type"})

	// EventsBroadcastTotal counts events published to rooms, labeled by event
	// type ("new_message", "user_typing", "message_read").
	EventsBroadcastTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_events_broadcast_total",
		Help: "Total number of events published to conversation rooms",
	}, []string{"type"})

	// EventsDroppedTotal counts events dropped because a connection's send
	// buffer was full.
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_events_dropped_total",
		Help: "Events dropped due to a full per-connection send buffer",
	})

	// AppendLatency records message append latency (persist + timestamp bump)
	// in seconds.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messaging_append_latency_seconds",
		Help:    "Message append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsActive,
		MessagesTotal,
		EventsBroadcastTotal,
		EventsDroppedTotal,
		AppendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
