package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("websocket: emit queue full")
	ErrHubClosed = errors.New("websocket: hub closed")
)

const (
	emergencyRoomPrefix = "emergency:"
	userRoomPrefix      = "user:"
)

func EmergencyRoom(emergencyID string) string { return emergencyRoomPrefix + emergencyID }

func UserRoom(userID string) string { return userRoomPrefix + userID }

// EmergencyIDFromRoom returns the id of an emergency room, or "" for other rooms.
func EmergencyIDFromRoom(room string) string {
	if id, ok := strings.CutPrefix(room, emergencyRoomPrefix); ok {
		return id
	}
	return ""
}

// Message is the envelope written to clients and read from them.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
	Room      string      `json:"room,omitempty"`
}

// JoinAuthorizer decides whether userID may subscribe to an emergency room.
type JoinAuthorizer func(ctx context.Context, userID, emergencyID string) error

// Connection is one upgraded client socket.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	alive    atomic.Bool
	lastPing atomic.Int64

	mu    sync.RWMutex
	Rooms map[string]bool
}

func newConnection(hub *Hub, conn *websocket.Conn, id, userID string) *Connection {
	c := &Connection{
		ID:     id,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, hub.config.MessageBufferSize),
		Hub:    hub,
		Rooms:  map[string]bool{UserRoom(userID): true},
	}
	c.alive.Store(true)
	c.touch()
	return c
}

func (c *Connection) touch() { c.lastPing.Store(time.Now().UnixNano()) }

func (c *Connection) LastPing() time.Time { return time.Unix(0, c.lastPing.Load()) }

func (c *Connection) IsAlive() bool { return c.alive.Load() }

func (c *Connection) close() {
	if c.alive.Swap(false) && c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Hub owns room membership. Emits are queued and fanned out by a single
// goroutine, so every connection sees events in emission order.
type Hub struct {
	connections map[string]*Connection
	// user id -> connection ids
	userConnections map[string]map[string]bool
	// room -> connection ids
	roomConnections map[string]map[string]bool

	broadcast  chan *Message
	register   chan *Connection
	unregister chan *Connection

	connectionCount int64
	emitted         atomic.Int64
	dropped         atomic.Int64

	config    *Config
	authorize JoinAuthorizer

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int64 `json:"connections"`
	Users       int   `json:"users"`
	Rooms       int   `json:"rooms"`
	Emitted     int64 `json:"emitted"`
	Dropped     int64 `json:"dropped"`
	QueueLength int   `json:"queue_length"`
}

func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]bool),
		roomConnections: make(map[string]map[string]bool),
		broadcast:       make(chan *Message, config.MessageQueueSize),
		register:        make(chan *Connection, 1000),
		unregister:      make(chan *Connection, 1000),
		config:          config,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go hub.run()
	return hub
}

// SetJoinAuthorizer installs the emergency room join check. Without one every join is refused.
func (h *Hub) SetJoinAuthorizer(fn JoinAuthorizer) {
	h.mu.Lock()
	h.authorize = fn
	h.mu.Unlock()
}

func (h *Hub) joinAuthorizer() JoinAuthorizer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authorize
}

// Emit queues event for every connection in room. It never blocks: a full
// queue or a closed hub is reported to the caller, which decides whether to log.
func (h *Hub) Emit(room, event string, data interface{}) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	msg := &Message{Type: event, Data: data, Room: room, Timestamp: time.Now().UnixMilli()}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		h.dropped.Add(1)
		return ErrQueueFull
	}
}

// EmitToUser targets every connection of userID.
func (h *Hub) EmitToUser(userID, event string, data interface{}) error {
	return h.Emit(UserRoom(userID), event, data)
}

func (h *Hub) run() {
	defer close(h.done)

	interval := h.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logrus.WithError(err).WithField("type", message.Type).Error("websocket: encode message failed")
				continue
			}
			h.emitted.Add(1)
			h.sendToRoom(message.Room, data)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		logrus.Warnf("websocket: connection limit reached: %d", h.config.MaxConnections)
		// the pumps exit on their own once the socket is closed
		conn.close()
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	if h.userConnections[conn.UserID] == nil {
		h.userConnections[conn.UserID] = make(map[string]bool)
	}
	h.userConnections[conn.UserID][conn.ID] = true

	conn.mu.RLock()
	for room := range conn.Rooms {
		h.addToRoomLocked(room, conn.ID)
	}
	conn.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"conn":        conn.ID,
		"user":        conn.UserID,
		"connections": atomic.LoadInt64(&h.connectionCount),
	}).Info("websocket: connection registered")
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)

	if ids := h.userConnections[conn.UserID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}

	conn.mu.RLock()
	for room := range conn.Rooms {
		h.removeFromRoomLocked(room, conn.ID)
	}
	conn.mu.RUnlock()

	close(conn.Send)
	logrus.WithFields(logrus.Fields{
		"conn":        conn.ID,
		"user":        conn.UserID,
		"connections": atomic.LoadInt64(&h.connectionCount),
	}).Info("websocket: connection unregistered")
}

func (h *Hub) addToRoomLocked(room, connID string) {
	if h.roomConnections[room] == nil {
		h.roomConnections[room] = make(map[string]bool)
	}
	h.roomConnections[room][connID] = true
}

func (h *Hub) removeFromRoomLocked(room, connID string) {
	if ids := h.roomConnections[room]; ids != nil {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(h.roomConnections, room)
		}
	}
}

func (h *Hub) sendToRoom(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.roomConnections[room] {
		if conn, ok := h.connections[connID]; ok && conn.IsAlive() {
			h.trySend(conn, data, func() {
				h.dropped.Add(1)
				logrus.WithFields(logrus.Fields{"room": room, "conn": connID}).Warn("websocket: send buffer full, frame dropped")
			})
		}
	}
}

func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		if now.Sub(conn.LastPing()) > h.config.ConnectionTimeout {
			logrus.WithField("conn", conn.ID).Warn("websocket: heartbeat timeout, closing")
			conn.close()
		}
	}
}

func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

func (h *Hub) GetRoomConnections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomConnections[room])
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomConnections)
}

func (h *Hub) QueueLength() int { return len(h.broadcast) }

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Connections: atomic.LoadInt64(&h.connectionCount),
		Users:       len(h.userConnections),
		Rooms:       len(h.roomConnections),
		Emitted:     h.emitted.Load(),
		Dropped:     h.dropped.Load(),
		QueueLength: len(h.broadcast),
	}
}

// Close stops the run loop and closes every socket.
func (h *Hub) Close() {
	h.cancel()
	<-h.done

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.close()
	}
	h.mu.Unlock()

	logrus.Info("websocket: hub closed")
}

func (h *Hub) trySend(conn *Connection, data []byte, onDrop func()) {
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
		default:
			onDrop()
			if h.config.CloseOnBackpressure {
				conn.close()
			}
		}
		return
	}
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case conn.Send <- data:
	case <-timer.C:
		onDrop()
		if h.config.CloseOnBackpressure {
			conn.close()
		}
	}
}
