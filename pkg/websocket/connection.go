package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait   = 10 * time.Second
	authTimeout = 5 * time.Second
)

func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		CheckOrigin:       originChecker(cfg.AllowedOrigins),
		EnableCompression: cfg.EnableCompression,
	}
}

// originChecker allows any origin when the list is empty, otherwise exact host matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	hosts := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		hosts[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)] || hosts["*"]
	}
}

// HandleWebSocket upgrades r for an already authenticated userID and places
// the connection in the user's private room.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	if hub.GetConnectionCount() >= hub.config.MaxConnections {
		http.Error(w, ErrConnectionLimitExceeded, http.StatusServiceUnavailable)
		return
	}

	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("websocket: upgrade failed")
		return
	}

	if hub.config.EnableCompression {
		conn.EnableWriteCompression(true)
		if hub.config.CompressionLevel != 0 {
			_ = conn.SetCompressionLevel(hub.config.CompressionLevel)
		}
	}

	connection := newConnection(hub, conn, generateConnectionID(), userID)

	select {
	case hub.register <- connection:
	case <-hub.ctx.Done():
		_ = conn.Close()
		return
	}

	go connection.writePump()
	go connection.readPump()
}

func generateConnectionID() string {
	return "conn_" + uuid.NewString()
}

func (c *Connection) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.ctx.Done():
		}
		c.close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("conn", c.ID).Warn("websocket: read failed")
			}
			return
		}
		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		c.handleMessage(message)
	}
}

func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one frame per event; clients parse each frame as a single JSON object
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(MessageTypeError, ErrInvalidMessageData)
		return
	}
	msg.From = c.UserID

	switch msg.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)
	case MessageTypeJoinEmergency:
		c.handleJoinEmergency(msg)
	case MessageTypeLeaveEmergency:
		c.handleLeaveEmergency(msg)
	default:
		logrus.WithFields(logrus.Fields{"conn": c.ID, "type": msg.Type}).Debug("websocket: unknown message type")
		c.reply(MessageTypeError, ErrInvalidMessageType)
	}
}

func (c *Connection) handleJoinEmergency(msg Message) {
	emergencyID := emergencyIDFromData(msg.Data)
	if emergencyID == "" {
		c.reply(MessageTypeError, ErrInvalidMessageData)
		return
	}

	authorize := c.Hub.joinAuthorizer()
	if authorize == nil {
		c.reply(MessageTypeError, ErrJoinForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(c.Hub.ctx, authTimeout)
	err := authorize(ctx, c.UserID, emergencyID)
	cancel()
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user": c.UserID, "emergency": emergencyID}).Info("websocket: join refused")
		c.reply(MessageTypeError, ErrJoinForbidden)
		return
	}

	c.JoinRoom(EmergencyRoom(emergencyID))
	c.reply(MessageTypeEmergencyJoined, map[string]string{"emergency_id": emergencyID})
}

func (c *Connection) handleLeaveEmergency(msg Message) {
	emergencyID := emergencyIDFromData(msg.Data)
	if emergencyID == "" {
		c.reply(MessageTypeError, ErrInvalidMessageData)
		return
	}
	c.LeaveRoom(EmergencyRoom(emergencyID))
	c.reply(MessageTypeEmergencyLeft, map[string]string{"emergency_id": emergencyID})
}

// emergencyIDFromData accepts a bare id or an object with emergency_id / emergencyId.
func emergencyIDFromData(data interface{}) string {
	switch v := data.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		for _, key := range []string{"emergency_id", "emergencyId"} {
			if s, ok := v[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (c *Connection) reply(msgType string, data interface{}) {
	if err := c.SendMessage(&Message{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()}); err != nil {
		logrus.WithField("conn", c.ID).Warn("websocket: reply dropped, send buffer full")
	}
}

// SendMessage writes directly to this connection, bypassing the hub queue.
func (c *Connection) SendMessage(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf(ErrSendBufferFull)
	}
}

func (c *Connection) JoinRoom(room string) {
	c.mu.Lock()
	c.Rooms[room] = true
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if _, registered := c.Hub.connections[c.ID]; registered {
		c.Hub.addToRoomLocked(room, c.ID)
	}
	c.Hub.mu.Unlock()
}

func (c *Connection) LeaveRoom(room string) {
	if room == UserRoom(c.UserID) {
		return
	}
	c.mu.Lock()
	delete(c.Rooms, room)
	c.mu.Unlock()

	c.Hub.mu.Lock()
	c.Hub.removeFromRoomLocked(room, c.ID)
	c.Hub.mu.Unlock()
}

func (c *Connection) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[room]
}

func (c *Connection) GetRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.Rooms))
	for room := range c.Rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
