package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/chatrelay/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// member is the hub's ephemeral record of one admitted connection.
type member struct {
	writer   *clientWriter
	joinSeq  uint64
	joinedAt time.Time
}

type roomMembers map[uuid.UUID]*member

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	room         string
	connectionID uuid.UUID
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	room         string
	connectionID uuid.UUID
}

type broadcastCmd struct {
	baseHubCmd
	room string
	data []byte
}

type sendCmd struct {
	baseHubCmd
	room         string
	connectionID uuid.UUID
	data         []byte
}

type membersCmd struct {
	baseHubCmd
	room         string
	replyChannel chan []uuid.UUID
}

type clientCountCmd struct {
	baseHubCmd
	room         string
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub tracks room membership and fans messages out to every member.
type Hub struct {
	cmdCh             chan hubCmd
	clock             clockwork.Clock
	rooms             map[string]roomMembers
	joinSeq           uint64
	maxClientsPerRoom int
	done              chan struct{}
}

// NewHub creates a hub and starts its command loop.
// maxClientsPerRoom limits members per room (prevents resource exhaustion).
func NewHub(clock clockwork.Clock, maxClientsPerRoom int) *Hub {
	h := &Hub{
		cmdCh:             make(chan hubCmd, 256),
		clock:             clock,
		rooms:             make(map[string]roomMembers),
		maxClientsPerRoom: maxClientsPerRoom,
		done:              make(chan struct{}),
	}
	go h.run()
	return h
}

// Register admits a connection into a room.
// Returns an error if the room is full or the command times out.
func (h *Hub) Register(room string, connectionID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- registerCmd{room: room, connectionID: connectionID, connection: conn, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister evicts a connection from a room. Evicting an unknown connection
// is a no-op.
func (h *Hub) Unregister(room string, connectionID uuid.UUID) {
	h.cmdCh <- unregisterCmd{room: room, connectionID: connectionID}
}

// Broadcast delivers data to every current member of the room. Delivery to
// each member is independent; a failed or slow member never aborts the rest
// and no error surfaces to the caller.
func (h *Hub) Broadcast(room string, data []byte) {
	h.cmdCh <- broadcastCmd{room: room, data: data}
}

// Send delivers data to a single member of the room. Unknown members are
// ignored.
func (h *Hub) Send(room string, connectionID uuid.UUID, data []byte) {
	h.cmdCh <- sendCmd{room: room, connectionID: connectionID, data: data}
}

// Members returns a point-in-time snapshot of the room's members in admission
// order. Returns nil if the command times out.
func (h *Hub) Members(room string) []uuid.UUID {
	replyCh := make(chan []uuid.UUID, 1)
	h.cmdCh <- membersCmd{room: room, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case members := <-replyCh:
		return members
	case <-timer.Chan():
		slog.Warn("Members timed out", "timeout", commandTimeout)
		return nil
	}
}

// ClientCount returns the number of members in a room.
// Returns -1 if the command times out.
func (h *Hub) ClientCount(room string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{room: room, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the hub, closing all member connections.
// Blocks until the hub goroutine has exited or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timeout := h.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", stopTimeout)
		metrics.HubStopTimeoutsTotal.Inc()
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.closeAllMembers("hub panic")
		}
	}()

	// Track command channel depth every second
	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > 200 { // 80% of 256
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.handleUnregister(c)
			case broadcastCmd:
				h.handleBroadcast(c)
			case sendCmd:
				h.handleSend(c)
			case membersCmd:
				c.replyChannel <- h.snapshotMembers(c.room)
			case clientCountCmd:
				c.replyChannel <- len(h.rooms[c.room])
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	members, exists := h.rooms[c.room]
	if !exists {
		members = make(roomMembers)
		h.rooms[c.room] = members
	}

	if len(members) >= h.maxClientsPerRoom {
		slog.Warn("Rejecting client: max clients reached", "room", c.room, "max_clients", h.maxClientsPerRoom)
		c.errorChannel <- fmt.Errorf("max clients per room (%d) reached", h.maxClientsPerRoom)
		return
	}

	h.joinSeq++
	members[c.connectionID] = &member{
		writer:   newClientWriter(c.connection, h.clock),
		joinSeq:  h.joinSeq,
		joinedAt: h.clock.Now(),
	}

	metrics.HubActiveRooms.Set(float64(len(h.rooms)))
	metrics.HubConnectedClients.Inc()

	slog.Debug("Client registered", "room", c.room, "connection_id", c.connectionID.String(), "total_clients", len(members))
	c.errorChannel <- nil
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	members, exists := h.rooms[c.room]
	if !exists {
		return
	}

	m, exists := members[c.connectionID]
	if !exists {
		return
	}

	m.writer.stop()
	delete(members, c.connectionID)
	metrics.HubConnectedClients.Dec()

	if len(members) == 0 {
		delete(h.rooms, c.room)
		metrics.HubActiveRooms.Set(float64(len(h.rooms)))
		slog.Info("Last client left room", "room", c.room)
	} else {
		slog.Debug("Client unregistered", "room", c.room, "connection_id", c.connectionID.String(), "remaining_clients", len(members))
	}
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	members, exists := h.rooms[c.room]
	if !exists {
		return
	}

	metrics.HubBroadcastsTotal.Inc()
	metrics.HubBroadcastFanout.Observe(float64(len(members)))

	var slow []uuid.UUID
	for connectionID, m := range members {
		select {
		case m.writer.sendCh <- c.data:
		default:
			slow = append(slow, connectionID)
		}
	}

	for _, connectionID := range slow {
		slog.Warn("Disconnecting slow client", "room", c.room, "connection_id", connectionID.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(unregisterCmd{room: c.room, connectionID: connectionID})
	}
}

func (h *Hub) handleSend(c sendCmd) {
	members, exists := h.rooms[c.room]
	if !exists {
		return
	}

	m, exists := members[c.connectionID]
	if !exists {
		return
	}

	select {
	case m.writer.sendCh <- c.data:
	default:
		slog.Warn("Disconnecting slow client", "room", c.room, "connection_id", c.connectionID.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(unregisterCmd{room: c.room, connectionID: c.connectionID})
	}
}

func (h *Hub) snapshotMembers(room string) []uuid.UUID {
	members := h.rooms[room]
	snapshot := make([]uuid.UUID, 0, len(members))
	for connectionID := range members {
		snapshot = append(snapshot, connectionID)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return members[snapshot[i]].joinSeq < members[snapshot[j]].joinSeq
	})
	return snapshot
}

func (h *Hub) handleStop() {
	totalClients := 0
	for _, members := range h.rooms {
		totalClients += len(members)
	}

	slog.Info("Hub shutting down", "rooms", len(h.rooms), "total_clients", totalClients)
	h.closeAllMembers("Server shutting down")
	slog.Info("Hub shutdown complete", "disconnected_clients", totalClients)
}

// closeAllMembers closes all member connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (h *Hub) closeAllMembers(reason string) {
	for room, members := range h.rooms {
		for _, m := range members {
			m.writer.stopGraceful(reason)
		}
		delete(h.rooms, room)
	}
	metrics.HubConnectedClients.Set(0)
	metrics.HubActiveRooms.Set(0)
}
