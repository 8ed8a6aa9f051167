package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeConnection(hub *Hub, id, userID string) *Connection {
	return newConnection(hub, nil, id, userID)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	assert.NotNil(t, hub)
	assert.Equal(t, int64(DefaultMaxConnections), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)

	hub.Close()
	assert.ErrorIs(t, hub.Emit("user:u", "x", nil), ErrHubClosed)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "emergency:e1", EmergencyRoom("e1"))
	assert.Equal(t, "user:u1", UserRoom("u1"))
	assert.Equal(t, "e1", EmergencyIDFromRoom("emergency:e1"))
	assert.Equal(t, "", EmergencyIDFromRoom("user:u1"))
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := fakeConnection(hub, "test_conn_1", "test_user_1")
	hub.register <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, hub.GetUserConnections("test_user_1"))
	assert.Equal(t, 1, hub.GetRoomConnections(UserRoom("test_user_1")))

	hub.unregister <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.GetUserConnections("test_user_1"))
	assert.Equal(t, 0, hub.GetRoomConnections(UserRoom("test_user_1")))

	_, open := <-conn.Send
	assert.False(t, open)
}

func TestHubRoomManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn1 := fakeConnection(hub, "c1", "u1")
	conn2 := fakeConnection(hub, "c2", "u2")
	hub.register <- conn1
	hub.register <- conn2
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	room := EmergencyRoom("e1")
	conn1.JoinRoom(room)
	conn2.JoinRoom(room)
	assert.Equal(t, 2, hub.GetRoomConnections(room))
	assert.True(t, conn1.InRoom(room))

	conn1.LeaveRoom(room)
	assert.Equal(t, 1, hub.GetRoomConnections(room))

	// the private user room cannot be left
	conn1.LeaveRoom(UserRoom("u1"))
	assert.True(t, conn1.InRoom(UserRoom("u1")))
	assert.ElementsMatch(t, []string{UserRoom("u1")}, conn1.GetRooms())
}

func TestEmitPreservesOrderPerConnection(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := fakeConnection(hub, "c1", "u1")
	hub.register <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	conn.JoinRoom(EmergencyRoom("e1"))

	for i := 0; i < 20; i++ {
		room := EmergencyRoom("e1")
		if i%2 == 1 {
			room = UserRoom("u1")
		}
		require.NoError(t, hub.Emit(room, "seq", i))
	}

	for i := 0; i < 20; i++ {
		select {
		case raw := <-conn.Send:
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, "seq", msg.Type)
			assert.Equal(t, float64(i), msg.Data)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
	assert.Equal(t, int64(20), hub.Stats().Emitted)
}

func TestEmitOnlyReachesRoomMembers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	member := fakeConnection(hub, "c1", "u1")
	outsider := fakeConnection(hub, "c2", "u2")
	hub.register <- member
	hub.register <- outsider
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 2 }, time.Second, 5*time.Millisecond)
	member.JoinRoom(EmergencyRoom("e1"))

	require.NoError(t, hub.Emit(EmergencyRoom("e1"), "new_message", "hi"))
	require.NoError(t, hub.EmitToUser("u2", "emergency_created", "e1"))

	select {
	case raw := <-member.Send:
		assert.Contains(t, string(raw), "new_message")
	case <-time.After(time.Second):
		t.Fatal("member did not receive room event")
	}
	select {
	case raw := <-outsider.Send:
		assert.Contains(t, string(raw), "emergency_created")
	case <-time.After(time.Second):
		t.Fatal("outsider did not receive user event")
	}
	assert.Len(t, member.Send, 0)
	assert.Len(t, outsider.Send, 0)
}

func TestEmitQueueFull(t *testing.T) {
	hub := &Hub{
		config:    DefaultConfig(),
		broadcast: make(chan *Message, 1),
		ctx:       context.Background(),
	}
	require.NoError(t, hub.Emit("user:u", "a", nil))
	assert.ErrorIs(t, hub.Emit("user:u", "b", nil), ErrQueueFull)
	assert.Equal(t, int64(1), hub.dropped.Load())
}

func TestSlowConnectionDropsFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageBufferSize = 1
	hub := NewHub(cfg)
	defer hub.Close()

	conn := fakeConnection(hub, "c1", "u1")
	hub.register <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.EmitToUser("u1", "first", nil))
	require.NoError(t, hub.EmitToUser("u1", "second", nil))
	require.Eventually(t, func() bool { return hub.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)

	assert.Len(t, conn.Send, 1)
	assert.Equal(t, int64(2), hub.Stats().Emitted)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultConfig()))
	assert.Error(t, ValidateConfig(nil))

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = cfg.ConnectionTimeout
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.CompressionLevel = 12
	assert.Error(t, ValidateConfig(cfg))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv(EnvWebSocketMaxConnections, "5")
	t.Setenv(EnvWebSocketHeartbeatInterval, "10")
	t.Setenv(EnvWebSocketDropOnFull, "false")
	t.Setenv(EnvWebSocketAllowedOrigins, "app.example.com, admin.example.com")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, int64(5), cfg.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.False(t, cfg.DropOnFull)
	assert.Equal(t, []string{"app.example.com", "admin.example.com"}, cfg.AllowedOrigins)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"app.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}

// dialTestServer serves HandleWebSocket with the user taken from ?user=.
func dialTestServer(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.GetUserConnections(userID) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketJoinFlow(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	hub.SetJoinAuthorizer(func(ctx context.Context, userID, emergencyID string) error {
		if emergencyID == "e1" {
			return nil
		}
		return errors.New("not a member")
	})

	conn := dialTestServer(t, hub, "u1")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoinEmergency, Data: map[string]string{"emergency_id": "e1"}}))
	joined := readMessage(t, conn)
	assert.Equal(t, MessageTypeEmergencyJoined, joined.Type)

	require.NoError(t, hub.Emit(EmergencyRoom("e1"), "location_update", map[string]any{"emergency_id": "e1"}))
	event := readMessage(t, conn)
	assert.Equal(t, "location_update", event.Type)
	assert.Equal(t, EmergencyRoom("e1"), event.Room)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoinEmergency, Data: "e2"}))
	refused := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, refused.Type)
	assert.Equal(t, ErrJoinForbidden, refused.Data)
	assert.Equal(t, 0, hub.GetRoomConnections(EmergencyRoom("e2")))

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeLeaveEmergency, Data: "e1"}))
	assert.Equal(t, MessageTypeEmergencyLeft, readMessage(t, conn).Type)
	assert.Equal(t, 0, hub.GetRoomConnections(EmergencyRoom("e1")))

	require.NoError(t, hub.EmitToUser("u1", "emergency_created", map[string]any{"emergency_id": "e3"}))
	assert.Equal(t, "emergency_created", readMessage(t, conn).Type)
}

func TestWebSocketJoinWithoutAuthorizer(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := dialTestServer(t, hub, "u1")
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoinEmergency, Data: "e1"}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := dialTestServer(t, hub, "u1")
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()

	r := gin.New()
	RegisterRoutes(r, NewHandler(hub), func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteWebSocket, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteWebSocketStats, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "connections")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteWebSocketHealth, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
