package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"SafeCircle/pkg/cache"
	constants "SafeCircle/pkg/constant"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	idemPrefix        = "idem:"
	idemPending       = "pending"
	HeaderIdemReplay  = "Idempotent-Replayed"
	maxIdemKeyLength  = 255
	maxReplayBodySize = 64 << 10
)

type IdempotencyConfig struct {
	HeaderName string
	// how long a key is remembered, both while in flight and for replays
	TTL   time.Duration
	Store cache.Cache
}

// storedResponse is what a replay writes back.
type storedResponse struct {
	State       string `json:"state"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.buf.Len() < maxReplayBodySize {
		w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	if w.buf.Len() < maxReplayBodySize {
		w.buf.WriteString(s)
	}
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first completed response for a repeated
// Idempotency-Key from the same user. Requests without the header pass
// through. A repeat that arrives while the first is still running gets 409.
// Responses with status >= 500 are forgotten so the client may retry.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = constants.HeaderIdempotencyKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Store == nil {
		store, err := cache.NewCache(cache.Config{Type: "local"})
		if err != nil {
			panic(err)
		}
		cfg.Store = store
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdemKeyLength {
			response.Error(c, errors.Validation("", "idempotency key too long"))
			return
		}

		ctx := c.Request.Context()
		storeKey := idemPrefix + currentUserID(c) + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		pending, _ := json.Marshal(storedResponse{State: idemPending})

		acquired, err := cfg.Store.SetNX(ctx, storeKey, pending, cfg.TTL)
		if err != nil {
			logger.Warn("idempotency: store unavailable, passing through", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			replay(c, cfg.Store, storeKey)
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError || w.buf.Len() >= maxReplayBodySize {
			_ = cfg.Store.Delete(ctx, storeKey)
			return
		}
		done, _ := json.Marshal(storedResponse{
			State:       "done",
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.buf.Bytes(),
		})
		if err := cfg.Store.Set(ctx, storeKey, done, cfg.TTL); err != nil {
			logger.Warn("idempotency: save response failed", zap.Error(err))
		}
	}
}

func replay(c *gin.Context, store cache.Cache, key string) {
	raw, ok := store.Get(c.Request.Context(), key)
	var stored storedResponse
	if !ok || json.Unmarshal(raw, &stored) != nil || stored.State == idemPending {
		response.Error(c, errors.Conflict("", "a request with this idempotency key is in progress"))
		return
	}
	c.Header(HeaderIdemReplay, "true")
	contentType := stored.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(stored.Status, contentType, stored.Body)
	c.Abort()
}
