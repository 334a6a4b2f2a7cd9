package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the audio relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: scribear_relay (application-level grouping)
// - subsystem: websocket, room, audio, transcription, circuit_breaker, rate_limit, redis (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, subscribers)
// - Counter: Cumulative events (frames forwarded, errors)
// - Histogram: Latency and size distributions

var (
	// ActiveWebSocketConnections tracks the current number of active
	// WebSocket connections, split by role (source vs sink).
	ActiveWebSocketConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	}, []string{"role"})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomSubscribers tracks the number of transcript subscribers per room.
	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "room",
		Name:      "subscribers_count",
		Help:      "Number of transcript subscribers in each room",
	}, []string{"session_id"})

	// RoomHasSource tracks whether a room currently has an audio source
	// attached (1) or not (0).
	RoomHasSource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "room",
		Name:      "has_source",
		Help:      "Whether the room currently has an audio source connected",
	}, []string{"session_id"})

	// AudioFramesForwarded tracks the total number of binary audio frames
	// forwarded from a source to the transcription backend.
	AudioFramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "audio",
		Name:      "frames_forwarded_total",
		Help:      "Total audio frames forwarded to the transcription backend",
	}, []string{"status"})

	// AudioFrameSize tracks the size distribution of forwarded audio frames.
	AudioFrameSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scribear_relay",
		Subsystem: "audio",
		Name:      "frame_bytes",
		Help:      "Size in bytes of forwarded audio frames",
		Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
	})

	// TranscriptEventsEmitted tracks the total number of transcript events
	// fanned out to subscribers, by type (ip_transcript vs final_transcript).
	TranscriptEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "transcription",
		Name:      "events_emitted_total",
		Help:      "Total transcript events fanned out to subscribers",
	}, []string{"type"})

	// TranscriptBroadcastDuration tracks how long a single fan-out to all
	// subscribers of a room takes.
	TranscriptBroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scribear_relay",
		Subsystem: "transcription",
		Name:      "broadcast_seconds",
		Help:      "Time spent broadcasting a transcript event to a room's subscribers",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// TranscriptionBackendState tracks the state of the outbound connection
	// to the transcription backend, keyed by session.
	// 0: disconnected, 1: connecting, 2: connected
	TranscriptionBackendState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "transcription",
		Name:      "backend_state",
		Help:      "State of the transcription backend connection (0: disconnected, 1: connecting, 2: connected)",
	}, []string{"session_id"})

	// CircuitBreakerState tracks the current state of the circuit breaker
	// guarding transcription-backend connect attempts.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scribear_relay",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of failed connect
	// attempts made through the circuit breaker, whether the dial itself
	// failed or the breaker rejected the attempt.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total failed requests made through the circuit breaker, including those it rejected",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded
	// the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of REST requests the rate
	// limiter allowed through; rejected requests are counted only in
	// RateLimitExceeded.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests allowed by the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations
	// issued by the rate limiter's shared store.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scribear_relay",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scribear_relay",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// Role labels for ActiveWebSocketConnections.
const (
	RoleSource = "source"
	RoleSink   = "sink"
)

func IncConnection(role string) {
	ActiveWebSocketConnections.WithLabelValues(role).Inc()
}

func DecConnection(role string) {
	ActiveWebSocketConnections.WithLabelValues(role).Dec()
}
