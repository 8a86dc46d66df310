package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/metrics"
)

// broadcastTimestampLayout is the wall-clock format carried in outbound
// envelopes.
const broadcastTimestampLayout = "15:04:05"

// HandshakeError is returned when a connection fails before acceptance. The
// failure has already been recorded by the time the caller sees it; the
// transport closes the socket with an error indication.
type HandshakeError struct {
	Cause error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("handshake failed: %v", e.Cause) }
func (e *HandshakeError) Unwrap() error { return e.Cause }

// Broadcaster is the hub capability the coordinator needs.
type Broadcaster interface {
	Register(room string, connectionID uuid.UUID, conn *websocket.Conn) error
	Unregister(room string, connectionID uuid.UUID)
	Broadcast(room string, data []byte)
	Send(room string, connectionID uuid.UUID, data []byte)
}

// EventRecorder appends lifecycle events. Implementations must be
// fire-and-forget: recording never blocks or fails the lifecycle.
type EventRecorder interface {
	Record(ctx context.Context, event domain.LifecycleEvent)
}

// HistoryCache replays recent broadcast envelopes to newly connected clients.
type HistoryCache interface {
	Append(ctx context.Context, data []byte) error
	Recent(ctx context.Context) ([][]byte, error)
}

// ConnectionScope carries the transport-level facts about a connection
// attempt, captured before the handshake.
type ConnectionScope struct {
	ClientIP  string
	UserAgent string
	Path      string
	Headers   map[string]string
}

// Coordinator owns the per-connection lifecycle state machine and the
// connection start-time table used for duration computation.
type Coordinator struct {
	hub      Broadcaster
	recorder EventRecorder
	messages domain.MessageRepository
	history  HistoryCache
	clock    clockwork.Clock
	room     string

	mu         sync.Mutex
	startTimes map[uuid.UUID]time.Time
}

// NewCoordinator creates a coordinator for a single room. history may be nil
// to disable replay.
func NewCoordinator(hub Broadcaster, recorder EventRecorder, messages domain.MessageRepository, history HistoryCache, clock clockwork.Clock, room string) *Coordinator {
	return &Coordinator{
		hub:        hub,
		recorder:   recorder,
		messages:   messages,
		history:    history,
		clock:      clock,
		room:       room,
		startTimes: make(map[uuid.UUID]time.Time),
	}
}

// Room returns the room this coordinator serves.
func (c *Coordinator) Room() string { return c.room }

// BeginAttempt registers a new connection attempt: it issues the connection
// ID, stores the wall-clock start time, and records the pre_handshake event.
func (c *Coordinator) BeginAttempt(ctx context.Context, scope ConnectionScope) uuid.UUID {
	connectionID := uuid.New()

	c.mu.Lock()
	c.startTimes[connectionID] = c.clock.Now()
	c.mu.Unlock()

	c.record(ctx, scope, domain.LifecycleEvent{
		Stage:      domain.StagePreHandshake,
		Successful: false,
	})
	return connectionID
}

// Accept admits the connection into the room, records the connected event,
// and replays recent history to the new member. On admission failure the
// handshake failure is recorded first and a *HandshakeError is returned for
// the transport to propagate.
func (c *Coordinator) Accept(ctx context.Context, connectionID uuid.UUID, scope ConnectionScope, conn *websocket.Conn) error {
	if err := c.hub.Register(c.room, connectionID, conn); err != nil {
		c.HandshakeFailed(ctx, connectionID, scope, err)
		return &HandshakeError{Cause: err}
	}

	c.record(ctx, scope, domain.LifecycleEvent{
		Stage:      domain.StageConnected,
		Successful: true,
	})

	c.replayHistory(ctx, connectionID)
	return nil
}

// HandshakeFailed records a failure that happened before acceptance. The
// start-time entry is cleared so a failed handshake never leaks it. Calling
// this after a terminal event already fired is a no-op.
func (c *Coordinator) HandshakeFailed(ctx context.Context, connectionID uuid.UUID, scope ConnectionScope, cause error) {
	durationMS, ok := c.popStart(connectionID)
	if !ok {
		return
	}

	metrics.HandshakeFailuresTotal.Inc()
	errorMessage := cause.Error()
	c.record(ctx, scope, domain.LifecycleEvent{
		Stage:        domain.StageHandshake,
		Successful:   false,
		ErrorMessage: &errorMessage,
		DurationMS:   &durationMS,
	})
}

// HandleInbound processes one inbound text payload from a connected client:
// decode, persist, record message_received, fan out. Malformed payloads get a
// rejection frame back to the sender only; persistence failures are logged
// and never terminate the connection.
func (c *Coordinator) HandleInbound(ctx context.Context, connectionID uuid.UUID, scope ConnectionScope, raw []byte) {
	message, username, err := decodeInbound(raw)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		slog.WarnContext(ctx, "Rejecting malformed message", "connection_id", connectionID.String(), "error", err)

		data, marshalErr := json.Marshal(rejection{Error: err.Error()})
		if marshalErr != nil {
			return
		}
		c.hub.Send(c.room, connectionID, data)
		return
	}

	if _, err := c.messages.Insert(ctx, username, message); err != nil {
		// Losing a stored message is preferable to dropping a live connection.
		metrics.MessageStoreFailures.Inc()
		slog.ErrorContext(ctx, "Failed to store chat message", "connection_id", connectionID.String(), "error", err)
	}

	metrics.MessagesReceivedTotal.Inc()
	c.record(ctx, scope, domain.LifecycleEvent{
		Stage:      domain.StageMessageReceived,
		Successful: true,
	})

	envelope := OutboundMessage{
		Message:   message,
		Username:  username,
		Timestamp: c.clock.Now().Format(broadcastTimestampLayout),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal broadcast envelope", "error", err)
		return
	}

	c.hub.Broadcast(c.room, data)
	c.appendHistory(ctx, data)

	// One message_sent record per fan-out, on the sender side. Per-recipient
	// tracking would multiply event volume by room size for no diagnostic gain.
	c.record(ctx, scope, domain.LifecycleEvent{
		Stage:      domain.StageMessageSent,
		Successful: true,
	})
}

// Disconnected deregisters the connection and records the disconnected event
// with close code and duration. The start-time entry is the exactly-once
// guard: if a terminal event already fired for this connection, nothing is
// recorded.
func (c *Coordinator) Disconnected(ctx context.Context, connectionID uuid.UUID, scope ConnectionScope, closeCode int) {
	c.hub.Unregister(c.room, connectionID)

	durationMS, ok := c.popStart(connectionID)
	if !ok {
		return
	}

	event := domain.LifecycleEvent{
		Stage:      domain.StageDisconnected,
		Successful: false,
		DurationMS: &durationMS,
	}
	if closeCode != 0 {
		code := closeCode
		event.CloseCode = &code
	}
	c.record(ctx, scope, event)
}

// popStart removes the start-time entry and returns the elapsed milliseconds.
// Returns ok=false if no entry exists (terminal event already recorded).
func (c *Coordinator) popStart(connectionID uuid.UUID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, ok := c.startTimes[connectionID]
	if !ok {
		return 0, false
	}
	delete(c.startTimes, connectionID)
	return c.clock.Since(start).Milliseconds(), true
}

func (c *Coordinator) record(ctx context.Context, scope ConnectionScope, event domain.LifecycleEvent) {
	if scope.ClientIP != "" {
		event.ClientIP = &scope.ClientIP
	}
	if scope.UserAgent != "" {
		event.UserAgent = &scope.UserAgent
	}
	if scope.Path != "" {
		event.Path = &scope.Path
	}
	event.Headers = scope.Headers

	metrics.LifecycleEventsTotal.WithLabelValues(string(event.Stage), fmt.Sprintf("%t", event.Successful)).Inc()
	c.recorder.Record(ctx, event)
}

func (c *Coordinator) replayHistory(ctx context.Context, connectionID uuid.UUID) {
	if c.history == nil {
		return
	}

	recent, err := c.history.Recent(ctx)
	if err != nil {
		metrics.HistoryCacheFailures.Inc()
		slog.WarnContext(ctx, "Failed to load replay history", "error", err)
		return
	}
	for _, data := range recent {
		c.hub.Send(c.room, connectionID, data)
	}
}

func (c *Coordinator) appendHistory(ctx context.Context, data []byte) {
	if c.history == nil {
		return
	}
	if err := c.history.Append(ctx, data); err != nil {
		metrics.HistoryCacheFailures.Inc()
		slog.WarnContext(ctx, "Failed to append replay history", "error", err)
	}
}
