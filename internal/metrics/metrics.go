// Package metrics defines the Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// HubConnectedClients tracks total connected WebSocket clients across all rooms
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients_total",
			Help: "Total number of connected WebSocket clients across all rooms",
		},
	)

	// HubActiveRooms tracks the number of rooms with at least one member
	HubActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_rooms",
			Help: "Number of rooms with at least one connected member",
		},
	)

	// HubBroadcastsTotal tracks fan-outs performed by the hub
	HubBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total broadcast fan-outs performed",
		},
	)

	// HubBroadcastFanout tracks how many members each broadcast reached
	HubBroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_broadcast_fanout_size",
			Help:    "Number of members reached per broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// HubSlowClientsEvicted tracks slow clients evicted due to full send buffers
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Total slow WebSocket clients evicted due to buffer full",
		},
	)

	// HubCommandChannelDepth tracks the current command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)

	// HubStopTimeoutsTotal tracks hub stops that exceeded the shutdown timeout
	HubStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stop_timeouts_total",
			Help: "Hub stops that exceeded timeout",
		},
	)
)

// WebSocket transport metrics
var (
	// WebSocketMessageSendDuration tracks outbound write latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// WebSocketPingFailures tracks failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket keepalive pings",
		},
	)

	// ConnectionLimitRejections tracks connections rejected by the limiter chain
	ConnectionLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_limit_rejections_total",
			Help: "Connections rejected by the limiter chain, by reason",
		},
		[]string{"reason"},
	)
)

// Lifecycle metrics
var (
	// LifecycleEventsTotal tracks recorded lifecycle events by stage and outcome
	LifecycleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_total",
			Help: "Recorded connection lifecycle events by stage and outcome",
		},
		[]string{"stage", "successful"},
	)

	// HandshakeFailuresTotal tracks connections that failed before acceptance
	HandshakeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handshake_failures_total",
			Help: "Total connections that failed before handshake acceptance",
		},
	)

	// MessagesReceivedTotal tracks inbound chat messages accepted
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Total inbound chat messages accepted",
		},
	)

	// MalformedMessagesTotal tracks inbound payloads rejected by the decoder
	MalformedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_malformed_total",
			Help: "Total inbound payloads rejected as malformed",
		},
	)

	// MessageStoreFailures tracks chat message persistence failures
	MessageStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_message_store_failures_total",
			Help: "Total chat message persistence failures (non-fatal)",
		},
	)
)

// Recorder metrics
var (
	// RecorderQueueDepth tracks the pending lifecycle events in the recorder buffer
	RecorderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_queue_depth",
			Help: "Pending lifecycle events in the recorder buffer",
		},
	)

	// RecorderDroppedEvents tracks events dropped because the buffer was full
	RecorderDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_dropped_events_total",
			Help: "Lifecycle events dropped because the recorder buffer was full",
		},
	)

	// RecorderStoreFailures tracks failed event inserts
	RecorderStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_store_failures_total",
			Help: "Failed lifecycle event inserts (logged and dropped)",
		},
	)
)

// Redis metrics
var (
	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// HistoryCacheFailures tracks replay cache errors
	HistoryCacheFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_cache_failures_total",
			Help: "Redis history cache errors (non-fatal)",
		},
	)
)
