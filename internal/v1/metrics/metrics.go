// Package metrics declares the Prometheus collectors for the session server.
//
// Naming convention: namespace_subsystem_name
// - namespace: thoughtswap
// - subsystem: websocket, room, lms, ratelimit
//
// Gauges hold current state (connections, rooms, participants), counters
// accumulate events, histograms capture processing latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of open WebSocket
	// connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thoughtswap",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thoughtswap",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thoughtswap",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"join_code"})

	// WebsocketEvents counts processed client events by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thoughtswap",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration measures handler latency per event type.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thoughtswap",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// SwapsPerformed counts completed thought distributions.
	SwapsPerformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thoughtswap",
		Subsystem: "room",
		Name:      "swaps_total",
		Help:      "Total thought distributions performed",
	})

	// ThoughtsSubmitted counts accepted student submissions.
	ThoughtsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thoughtswap",
		Subsystem: "room",
		Name:      "thoughts_submitted_total",
		Help:      "Total thoughts accepted",
	})

	// CircuitBreakerState exports breaker state per dependency
	// (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thoughtswap",
		Subsystem: "lms",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// RateLimitRequests counts requests that passed a rate limit check.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thoughtswap",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against rate limits",
	}, []string{"endpoint"})

	// RateLimitExceeded counts rejected requests by endpoint and key kind.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thoughtswap",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limits",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
