// Package metrics exposes the hub's Prometheus gauges and counters under a
// consistent namespace/subsystem/name convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with a live Document in the cache.",
	})

	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Current number of attached sessions per room.",
	}, []string{"room_id"})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound frames processed, by type and outcome.",
	}, []string{"frame_type", "status"})

	BroadcastOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "registry",
		Name:      "overflow_total",
		Help:      "Total sessions torn down for outbound queue overflow.",
	}, []string{"reason"})

	SnapshotsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "cache",
		Name:      "snapshots_written_total",
		Help:      "Total snapshots written by the Document Cache.",
	}, []string{"trigger"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whiteboard_hub",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "0=closed, 1=open, 2=half-open.",
	}, []string{"service"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }
