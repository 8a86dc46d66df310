package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// fakeHub records every call the coordinator makes.
type fakeHub struct {
	mu           sync.Mutex
	registerErr  error
	registered   []uuid.UUID
	unregistered []uuid.UUID
	broadcasts   [][]byte
	sends        []targetedSend
}

type targetedSend struct {
	connectionID uuid.UUID
	data         []byte
}

func (f *fakeHub) Register(_ string, connectionID uuid.UUID, _ *websocket.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, connectionID)
	return nil
}

func (f *fakeHub) Unregister(_ string, connectionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, connectionID)
}

func (f *fakeHub) Broadcast(_ string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, data)
}

func (f *fakeHub) Send(_ string, connectionID uuid.UUID, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, targetedSend{connectionID: connectionID, data: data})
}

// fakeRecorder collects recorded lifecycle events synchronously.
type fakeRecorder struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (f *fakeRecorder) Record(_ context.Context, event domain.LifecycleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) stages() []domain.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages := make([]domain.Stage, 0, len(f.events))
	for _, event := range f.events {
		stages = append(stages, event.Stage)
	}
	return stages
}

func (f *fakeRecorder) last() domain.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

// fakeMessageStore is an in-memory domain.MessageRepository.
type fakeMessageStore struct {
	mu        sync.Mutex
	insertErr error
	messages  []domain.ChatMessage
}

func (f *fakeMessageStore) Insert(_ context.Context, username, message string) (domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.ChatMessage{}, f.insertErr
	}
	stored := domain.ChatMessage{
		ID:        int64(len(f.messages) + 1),
		Username:  username,
		Message:   message,
		Timestamp: time.Now(),
	}
	f.messages = append(f.messages, stored)
	return stored, nil
}

func (f *fakeMessageStore) ListRecent(_ context.Context, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.messages) {
		limit = len(f.messages)
	}
	return f.messages[len(f.messages)-limit:], nil
}

// fakeHistory is an in-memory HistoryCache.
type fakeHistory struct {
	mu        sync.Mutex
	appendErr error
	recentErr error
	entries   [][]byte
}

func (f *fakeHistory) Append(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, data)
	return nil
}

func (f *fakeHistory) Recent(_ context.Context) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.entries, nil
}

type coordinatorFixture struct {
	coordinator *Coordinator
	hub         *fakeHub
	recorder    *fakeRecorder
	messages    *fakeMessageStore
	history     *fakeHistory
	clock       *clockwork.FakeClock
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		hub:      &fakeHub{},
		recorder: &fakeRecorder{},
		messages: &fakeMessageStore{},
		history:  &fakeHistory{},
		clock:    clockwork.NewFakeClock(),
	}
	f.coordinator = NewCoordinator(f.hub, f.recorder, f.messages, f.history, f.clock, "chat_room")
	return f
}

func testScope() ConnectionScope {
	return ConnectionScope{
		ClientIP:  "203.0.113.7",
		UserAgent: "test-agent",
		Path:      "/ws/chat",
		Headers:   map[string]string{"origin": "http://localhost"},
	}
}

func TestCoordinator_SuccessfulLifecycle(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "hello", "username": "bob"}`))
	f.coordinator.Disconnected(ctx, connectionID, scope, websocket.CloseNormalClosure)

	assert.Equal(t, []domain.Stage{
		domain.StagePreHandshake,
		domain.StageConnected,
		domain.StageMessageReceived,
		domain.StageMessageSent,
		domain.StageDisconnected,
	}, f.recorder.stages())

	assert.Equal(t, []uuid.UUID{connectionID}, f.hub.registered)
	assert.Equal(t, []uuid.UUID{connectionID}, f.hub.unregistered)
}

func TestCoordinator_PreHandshakeEventIsUnsuccessful(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.coordinator.BeginAttempt(context.Background(), testScope())

	require.Len(t, f.recorder.events, 1)
	event := f.recorder.last()
	assert.Equal(t, domain.StagePreHandshake, event.Stage)
	assert.False(t, event.Successful)
	require.NotNil(t, event.ClientIP)
	assert.Equal(t, "203.0.113.7", *event.ClientIP)
	require.NotNil(t, event.Path)
	assert.Equal(t, "/ws/chat", *event.Path)
	assert.Equal(t, map[string]string{"origin": "http://localhost"}, event.Headers)
}

func TestCoordinator_BroadcastEnvelope(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "hello", "username": "bob"}`))

	require.Len(t, f.hub.broadcasts, 1)
	var envelope OutboundMessage
	require.NoError(t, json.Unmarshal(f.hub.broadcasts[0], &envelope))
	assert.Equal(t, "hello", envelope.Message)
	assert.Equal(t, "bob", envelope.Username)
	assert.Equal(t, f.clock.Now().Format("15:04:05"), envelope.Timestamp)

	// The broadcast envelope also lands in the replay history
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, f.hub.broadcasts[0], f.history.entries[0])
}

func TestCoordinator_AnonymousDefault(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "no name"}`))

	require.Len(t, f.hub.broadcasts, 1)
	var envelope OutboundMessage
	require.NoError(t, json.Unmarshal(f.hub.broadcasts[0], &envelope))
	assert.Equal(t, domain.AnonymousUsername, envelope.Username)

	require.Len(t, f.messages.messages, 1)
	assert.Equal(t, domain.AnonymousUsername, f.messages.messages[0].Username)
}

func TestCoordinator_MalformedMessageIsRejectedNotFatal(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))

	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"username": "bob"}`))

	// Rejection goes back to the sender only, nothing is broadcast or stored
	assert.Empty(t, f.hub.broadcasts)
	assert.Empty(t, f.messages.messages)
	require.Len(t, f.hub.sends, 1)
	assert.Equal(t, connectionID, f.hub.sends[0].connectionID)

	var reject map[string]string
	require.NoError(t, json.Unmarshal(f.hub.sends[0].data, &reject))
	assert.Contains(t, reject["error"], "malformed")

	// No message_received or message_sent events were recorded
	assert.Equal(t, []domain.Stage{domain.StagePreHandshake, domain.StageConnected}, f.recorder.stages())

	// The connection keeps working afterwards
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "recovered"}`))
	assert.Len(t, f.hub.broadcasts, 1)
}

func TestCoordinator_MessageStoreFailureDoesNotBlockBroadcast(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.messages.insertErr = errors.New("database offline")
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "hello"}`))

	require.Len(t, f.hub.broadcasts, 1)
	assert.Equal(t, []domain.Stage{
		domain.StagePreHandshake,
		domain.StageConnected,
		domain.StageMessageReceived,
		domain.StageMessageSent,
	}, f.recorder.stages())
}

func TestCoordinator_AcceptFailureRecordsHandshake(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.hub.registerErr = errors.New("max clients per room (2) reached")
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	f.clock.Advance(250 * time.Millisecond)

	err := f.coordinator.Accept(ctx, connectionID, scope, nil)
	require.Error(t, err)
	var handshakeErr *HandshakeError
	require.ErrorAs(t, err, &handshakeErr)

	event := f.recorder.last()
	assert.Equal(t, domain.StageHandshake, event.Stage)
	assert.False(t, event.Successful)
	require.NotNil(t, event.ErrorMessage)
	assert.Contains(t, *event.ErrorMessage, "max clients per room")
	require.NotNil(t, event.DurationMS)
	assert.Equal(t, int64(250), *event.DurationMS)
}

func TestCoordinator_UpgradeFailureRecordsHandshake(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	f.coordinator.HandshakeFailed(ctx, connectionID, scope, errors.New("websocket: origin not allowed"))

	assert.Equal(t, []domain.Stage{domain.StagePreHandshake, domain.StageHandshake}, f.recorder.stages())
}

func TestCoordinator_ExactlyOneTerminalEvent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	f.coordinator.HandshakeFailed(ctx, connectionID, scope, errors.New("boom"))

	// A later disconnect for the same connection must not add another terminal event
	f.coordinator.Disconnected(ctx, connectionID, scope, websocket.CloseAbnormalClosure)
	f.coordinator.HandshakeFailed(ctx, connectionID, scope, errors.New("boom again"))

	assert.Equal(t, []domain.Stage{domain.StagePreHandshake, domain.StageHandshake}, f.recorder.stages())
}

func TestCoordinator_DisconnectedEvent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))

	f.clock.Advance(3 * time.Second)
	f.coordinator.Disconnected(ctx, connectionID, scope, websocket.CloseGoingAway)

	event := f.recorder.last()
	assert.Equal(t, domain.StageDisconnected, event.Stage)
	assert.False(t, event.Successful)
	require.NotNil(t, event.CloseCode)
	assert.Equal(t, websocket.CloseGoingAway, *event.CloseCode)
	require.NotNil(t, event.DurationMS)
	assert.Equal(t, int64(3000), *event.DurationMS)
}

func TestCoordinator_DisconnectedWithoutCloseCode(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.Disconnected(ctx, connectionID, scope, 0)

	event := f.recorder.last()
	assert.Equal(t, domain.StageDisconnected, event.Stage)
	assert.Nil(t, event.CloseCode)
}

func TestCoordinator_HistoryReplayOnAccept(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	f.history.entries = [][]byte{[]byte(`{"message":"old one"}`), []byte(`{"message":"old two"}`)}

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))

	require.Len(t, f.hub.sends, 2)
	assert.Equal(t, connectionID, f.hub.sends[0].connectionID)
	assert.Equal(t, []byte(`{"message":"old one"}`), f.hub.sends[0].data)
	assert.Equal(t, []byte(`{"message":"old two"}`), f.hub.sends[1].data)
}

func TestCoordinator_HistoryFailuresAreNonFatal(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.history.recentErr = errors.New("redis down")
	f.history.appendErr = errors.New("redis down")
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "hello"}`))

	assert.Len(t, f.hub.broadcasts, 1)
}

func TestCoordinator_NilHistoryDisablesReplay(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.coordinator = NewCoordinator(f.hub, f.recorder, f.messages, nil, f.clock, "chat_room")
	ctx := context.Background()
	scope := testScope()

	connectionID := f.coordinator.BeginAttempt(ctx, scope)
	require.NoError(t, f.coordinator.Accept(ctx, connectionID, scope, nil))
	f.coordinator.HandleInbound(ctx, connectionID, scope, []byte(`{"message": "hello"}`))

	assert.Empty(t, f.hub.sends)
	assert.Len(t, f.hub.broadcasts, 1)
}

func TestCoordinator_ConnectionIDsAreUnique(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	scope := testScope()

	seen := make(map[uuid.UUID]bool)
	for range 100 {
		connectionID := f.coordinator.BeginAttempt(ctx, scope)
		require.False(t, seen[connectionID])
		seen[connectionID] = true
	}
}
