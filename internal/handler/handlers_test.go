package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"SafeCircle/internal/chat"
	"SafeCircle/internal/emergency"
	"SafeCircle/internal/models"
	"SafeCircle/internal/notify"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/middleware"
	stores "SafeCircle/pkg/storage"
	"SafeCircle/pkg/util"
	"SafeCircle/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "handler-test-secret"

type server struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
	auth   *middleware.Authenticator

	creator  *models.User
	helper   *models.User
	outsider *models.User
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := util.InitDatabase(util.DriverSQLite, "", false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	hub := websocket.NewHub(nil)
	m := metrics.NewMetrics()
	dispatcher := notify.NewDispatcher(m, notify.NewRealtimeChannel(hub))
	svc := emergency.NewService(db, dispatcher, hub, emergency.WithMetrics(m))

	limiterStore, err := middleware.NewLimiterStore(nil)
	require.NoError(t, err)
	chatLimiter, err := middleware.NewKeyLimiter("100-M", limiterStore)
	require.NoError(t, err)
	chatSvc := chat.NewService(db, chatLimiter, hub, stores.NewMemoryStore("https://files.test"), m)

	auth := middleware.NewAuthenticator(testSecret)
	h := NewHandlers(Options{
		DB:             db,
		Emergencies:    svc,
		Chat:           chatSvc,
		Hub:            hub,
		Metrics:        m,
		Auth:           auth,
		Idempotency:    middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{}),
		VAPIDPublicKey: "BPublicKey",
		MaxUpload:      1 << 20,
	})
	engine := gin.New()
	h.Register(engine)

	t.Cleanup(func() {
		svc.Wait()
		hub.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := &server{t: t, db: db, engine: engine, auth: auth}
	s.creator = s.user("creator")
	s.helper = s.user("helper")
	s.outsider = s.user("outsider")
	require.NoError(t, db.Create(&models.Contact{
		OwnerUserID:   s.creator.ID,
		ContactUserID: &s.helper.ID,
		ContactName:   "helper",
		ContactEmail:  s.helper.Email,
		Status:        models.ContactAccepted,
	}).Error)
	return s
}

func (s *server) user(name string) *models.User {
	u := &models.User{Email: name + "@example.com", DisplayName: name}
	require.NoError(s.t, s.db.Create(u).Error)
	return u
}

func (s *server) do(method, path string, as *models.User, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		token, err := s.auth.Issue(as.ID, "user", time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (s *server) createEmergency() string {
	w := s.do(http.MethodPost, "/api/emergencies", s.creator, nil)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Emergency models.Emergency `json:"emergency"`
	}
	require.NoError(s.t, json.Unmarshal(decode(s.t, w).Data, &result))
	return result.Emergency.ID
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestAPIRequiresToken(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/emergencies/active", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateEmergency(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/emergencies", s.creator, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Emergency    models.Emergency     `json:"emergency"`
		Participants []models.Participant `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, models.EmergencyActive, result.Emergency.Status)
	require.Len(t, result.Participants, 1)
	assert.Equal(t, s.helper.ID, result.Participants[0].UserID)

	t.Run("replayed with the same key", func(t *testing.T) {
		again := s.do(http.MethodPost, "/api/emergencies", s.creator, nil, "Idempotency-Key", "k-1")
		assert.Equal(t, http.StatusCreated, again.Code)
		assert.Equal(t, "true", again.Header().Get(middleware.HeaderIdemReplay))
		assert.JSONEq(t, w.Body.String(), again.Body.String())
	})

	t.Run("second active emergency conflicts", func(t *testing.T) {
		dup := s.do(http.MethodPost, "/api/emergencies", s.creator, nil)
		assert.Equal(t, http.StatusConflict, dup.Code)
		assert.Equal(t, "active_emergency_exists", decode(t, dup).Code)
	})

	t.Run("active lookup", func(t *testing.T) {
		active := s.do(http.MethodGet, "/api/emergencies/active", s.creator, nil)
		require.Equal(t, http.StatusOK, active.Code)
		assert.Contains(t, string(decode(t, active).Data), result.Emergency.ID)

		none := s.do(http.MethodGet, "/api/emergencies/active", s.outsider, nil)
		require.Equal(t, http.StatusOK, none.Code)
		assert.Equal(t, "null", string(decode(t, none).Data))
	})
}

func TestEmergencyLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	id := s.createEmergency()
	base := "/api/emergencies/" + id

	w := s.do(http.MethodPost, base+"/locations", s.helper, map[string]any{"latitude": 40.7, "longitude": -74})
	assert.Equal(t, http.StatusForbidden, w.Code, "pending participants cannot report")

	w = s.do(http.MethodPost, base+"/respond", s.helper, map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_status", decode(t, w).Code)

	w = s.do(http.MethodPost, base+"/respond", s.helper, map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/locations", s.helper, map[string]any{"latitude": 40.7128, "longitude": -74.006, "accuracy": 12.5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/locations", s.creator, map[string]any{"latitude": 0, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "null_island", decode(t, w).Code)

	w = s.do(http.MethodGet, base+"/locations", s.creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest []models.LocationSample
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, s.helper.ID, latest[0].UserID)

	w = s.do(http.MethodGet, base+"/locations/trail?user_id="+s.helper.ID+"&since=2000-01-01T00:00:00Z", s.creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, base+"/locations/trail?since=yesterday", s.creator, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, base+"/messages", s.helper, map[string]string{"text": "on my way"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, base+"/messages", s.helper, map[string]string{"text": "   "})
	assert.Equal(t, "empty_message", decode(t, w).Code)

	w = s.do(http.MethodGet, base+"/messages", s.creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "on my way", *messages[0].Text)

	w = s.do(http.MethodGet, base, s.outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_participant", decode(t, w).Code)

	w = s.do(http.MethodPost, base+"/escalate", s.helper, map[string]string{"reason": "no answer"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/end", s.helper, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_creator", decode(t, w).Code)

	w = s.do(http.MethodPost, base+"/end", s.creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"status":"ended"`)

	w = s.do(http.MethodPost, base+"/messages", s.helper, map[string]string{"text": "still there?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "emergency_inactive", decode(t, w).Code)

	w = s.do(http.MethodGet, "/api/emergencies", s.helper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), id)
}

func TestUploadAttachment(t *testing.T) {
	s := newServer(t)
	id := s.createEmergency()

	upload := func(contentType string, size int) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte{0xff}, size))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		token, err := s.auth.Issue(s.creator.ID, "user", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/emergencies/"+id+"/attachments", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	w := upload("image/jpeg", 1024)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var attachment chat.Attachment
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &attachment))
	assert.Equal(t, chat.KindImage, attachment.Kind)
	assert.True(t, strings.HasPrefix(attachment.URL, "https://files.test/emergencies/"+id+"/image/"))

	w = upload("application/pdf", 16)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_attachment", decode(t, w).Code)

	w = upload("image/png", 2<<20)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushTokenRegistration(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPut, "/api/notifications/push-token", s.helper, map[string]string{"token": "not-a-token"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := "ExponentPushToken[abcdefghijk]"
	w = s.do(http.MethodPut, "/api/notifications/push-token", s.helper, map[string]string{"token": token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored, allowed, err := models.PushTarget(s.db, s.helper.ID)
	require.NoError(t, err)
	assert.Equal(t, token, stored)
	assert.True(t, allowed)

	w = s.do(http.MethodDelete, "/api/notifications/push-token", s.helper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stored, _, err = models.PushTarget(s.db, s.helper.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestWebPushSubscription(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/notifications/web-push/key", s.helper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), "BPublicKey")

	sub := map[string]any{
		"endpoint": "https://push.example.com/send/abc",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}
	w = s.do(http.MethodPost, "/api/notifications/web-push", s.helper, sub)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	subs, err := models.ListWebPushSubscriptions(s.db, s.helper.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "key", subs[0].P256dh)

	w = s.do(http.MethodPost, "/api/notifications/web-push", s.helper, map[string]any{"endpoint": "http://insecure"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/notifications/web-push", s.outsider, map[string]string{"endpoint": "https://push.example.com/send/abc"})
	assert.Equal(t, http.StatusNotFound, w.Code, "only the owner may remove a subscription")

	w = s.do(http.MethodDelete, "/api/notifications/web-push", s.helper, map[string]string{"endpoint": "https://push.example.com/send/abc"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(http.MethodGet, "/health", nil, nil)

	w := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `safecircle_http_requests_total{method="GET",path="/health",status="200"} 1`)
}
