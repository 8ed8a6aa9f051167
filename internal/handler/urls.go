package handlers

import (
	"SafeCircle/internal/chat"
	"SafeCircle/internal/emergency"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/websocket"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handlers struct {
	db          *gorm.DB
	emergencies *emergency.Service
	chat        *chat.Service
	hub         *websocket.Hub
	metrics     *metrics.Metrics

	auth        *middleware.Authenticator
	limiter     *middleware.RateLimiter
	idempotency gin.HandlerFunc

	vapidPublicKey string
	maxUpload      int64
}

// Options carries everything the router needs. Limiter and Idempotency may be nil.
type Options struct {
	DB          *gorm.DB
	Emergencies *emergency.Service
	Chat        *chat.Service
	Hub         *websocket.Hub
	Metrics     *metrics.Metrics
	Auth        *middleware.Authenticator
	Limiter     *middleware.RateLimiter
	Idempotency gin.HandlerFunc

	VAPIDPublicKey string
	MaxUpload      int64
}

func NewHandlers(opts Options) *Handlers {
	maxUpload := opts.MaxUpload
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &Handlers{
		db:             opts.DB,
		emergencies:    opts.Emergencies,
		chat:           opts.Chat,
		hub:            opts.Hub,
		metrics:        opts.Metrics,
		auth:           opts.Auth,
		limiter:        opts.Limiter,
		idempotency:    opts.Idempotency,
		vapidPublicKey: opts.VAPIDPublicKey,
		maxUpload:      maxUpload,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.Use(metrics.Middleware(h.metrics))

	// System Module Routes
	h.registerSystemRoutes(engine)
	websocket.RegisterRoutes(engine, websocket.NewHandler(h.hub), h.auth.Middleware())

	r := engine.Group("/api")
	r.Use(h.auth.Middleware())
	if h.limiter != nil {
		r.Use(h.limiter.Middleware())
	}

	// Business Module Routes
	h.registerEmergencyRoutes(r)
	h.registerNotificationRoutes(r)
}

func (h *Handlers) registerSystemRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
}

// Emergency Module
func (h *Handlers) registerEmergencyRoutes(r *gin.RouterGroup) {
	emergencies := r.Group("/emergencies")
	{
		create := []gin.HandlerFunc{}
		if h.idempotency != nil {
			create = append(create, h.idempotency)
		}
		emergencies.POST("", append(create, h.handleCreateEmergency)...)
		emergencies.GET("", h.handleListEmergencies)
		emergencies.GET("/active", h.handleActiveEmergency)

		emergencies.GET("/:id", h.handleGetEmergency)
		emergencies.POST("/:id/end", h.handleEndEmergency)
		emergencies.POST("/:id/cancel", h.handleCancelEmergency)
		emergencies.POST("/:id/escalate", h.handleEscalateEmergency)

		// participants
		emergencies.GET("/:id/participants", h.handleListParticipants)
		emergencies.POST("/:id/respond", h.handleRespond)

		// locations
		emergencies.POST("/:id/locations", h.handleReportLocation)
		emergencies.GET("/:id/locations", h.handleLatestLocations)
		emergencies.GET("/:id/locations/trail", h.handleLocationTrail)

		// chat
		emergencies.POST("/:id/messages", h.handlePostMessage)
		emergencies.GET("/:id/messages", h.handleListMessages)
		emergencies.POST("/:id/attachments", h.handleUploadAttachment)
	}
}

// Notification Module
func (h *Handlers) registerNotificationRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.PUT("/push-token", h.handleSetPushToken)
		notifications.DELETE("/push-token", h.handleClearPushToken)

		notifications.GET("/web-push/key", h.handleWebPushKey)
		notifications.POST("/web-push", h.handleSubscribeWebPush)
		notifications.DELETE("/web-push", h.handleUnsubscribeWebPush)
	}
}
