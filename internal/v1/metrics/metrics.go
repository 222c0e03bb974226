package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay server.
//
// Naming convention: namespace_subsystem_name
// - namespace: roomcast (application-level grouping)
// - subsystem: websocket, room, broadcast, heartbeat, ratelimit, bus
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members)
// - Counter: Cumulative events (frames relayed, retries, evictions)
// - Histogram: Distributions (fan-out latency, frame sizes)

var (
	// ActiveWebSocketConnections tracks the current number of live sessions.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomcast",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of occupied rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomcast",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of occupied rooms",
	})

	// RoomMembers tracks the member count per room.
	// Gauge rather than Histogram: we want the current occupancy per room,
	// not a distribution of historical counts.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomcast",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of inbound frames processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent handling inbound frames.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomcast",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// MessageBytes tracks inbound frame sizes.
	MessageBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roomcast",
		Subsystem: "websocket",
		Name:      "message_bytes",
		Help:      "Size of inbound WebSocket frames in bytes",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	})

	// BroadcastFanoutDuration tracks how long a room fan-out takes to enqueue.
	BroadcastFanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roomcast",
		Subsystem: "broadcast",
		Name:      "fanout_seconds",
		Help:      "Time spent enqueueing a frame to all recipients",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// SendRetries counts write passes beyond the first.
	SendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "broadcast",
		Name:      "send_retries_total",
		Help:      "Total write retries across all sessions",
	})

	// SendFailures counts writes that exhausted every retry pass.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "broadcast",
		Name:      "send_failures_total",
		Help:      "Total writes abandoned after exhausting retries",
	})

	// FramesDropped counts frames discarded because a session's outbound
	// queue was full or already closed.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "broadcast",
		Name:      "frames_dropped_total",
		Help:      "Total frames dropped before reaching a session's transport",
	})

	// HeartbeatEvictions counts sessions reaped for inactivity.
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "heartbeat",
		Name:      "evictions_total",
		Help:      "Total sessions evicted by the heartbeat scheduler",
	})

	// HistoryEvictions counts archive entries trimmed by the per-room cap.
	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "room",
		Name:      "history_evictions_total",
		Help:      "Total history entries evicted by the per-room cap",
	})

	// RateLimitExceeded counts denied operations per limit type.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total operations denied by a rate limit",
	}, []string{"endpoint", "limit_type"})

	// RateLimitRequests counts operations that passed a rate limit check.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total operations checked against a rate limit",
	}, []string{"endpoint"})

	// BusPublishTotal counts cross-instance publishes by outcome.
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "bus",
		Name:      "publish_total",
		Help:      "Total relay frames published to the bus",
	}, []string{"status"})

	// CircuitBreakerState reports breaker state per backing service
	// (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomcast",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts operations rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcast",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total operations rejected by an open circuit breaker",
	}, []string{"service"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
