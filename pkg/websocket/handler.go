package websocket

import (
	"net/http"
	"time"

	constants "SafeCircle/pkg/constant"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes mounts the upgrade route behind auth and the read-only stats routes.
func RegisterRoutes(r gin.IRouter, handler *Handler, auth gin.HandlerFunc) {
	r.GET(RouteWebSocket, auth, handler.HandleWebSocket)
	r.GET(RouteWebSocketStats, handler.GetStats)
	r.GET(RouteWebSocketHealth, handler.HealthCheck)
}

// HandleWebSocket expects the auth middleware to have set the user id.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(constants.UserField)
	if userID == "" {
		logrus.Warn("websocket: unauthenticated upgrade attempt")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	HandleWebSocket(h.hub, c.Writer, c.Request, userID)
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":  h.hub.Stats(),
		"config": GetConfigSummary(h.hub.config),
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.hub.ctx.Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"error":   "websocket hub closed",
			"details": err.Error(),
		})
		return
	}

	total := h.hub.GetConnectionCount()
	maxConns := h.hub.config.MaxConnections
	status := "healthy"
	if total >= maxConns*9/10 {
		status = "warning"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"total_connections": total,
		"max_connections":   maxConns,
		"connection_usage":  float64(total) / float64(maxConns) * 100,
		"timestamp":         time.Now().Unix(),
	})
}
