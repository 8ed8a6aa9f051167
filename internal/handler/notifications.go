package handlers

import (
	"strings"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/notification"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// webPushRequest mirrors the browser's PushSubscription.toJSON().
type webPushRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type webPushDeleteRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handlers) handleSetPushToken(c *gin.Context) {
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.Validation("", "token is required"))
		return
	}
	token := strings.TrimSpace(req.Token)
	if !notification.ValidExpoToken(token) {
		response.Error(c, errors.Validation("", "not an Expo push token"))
		return
	}
	if err := models.SetPushToken(h.db.WithContext(c.Request.Context()), middleware.CurrentUserID(c), token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "push token saved", nil)
}

func (h *Handlers) handleClearPushToken(c *gin.Context) {
	if err := models.SetPushToken(h.db.WithContext(c.Request.Context()), middleware.CurrentUserID(c), ""); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "push token cleared", nil)
}

func (h *Handlers) handleWebPushKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		response.Error(c, errors.NotFound("web push is not configured"))
		return
	}
	response.Success(c, "ok", gin.H{"publicKey": h.vapidPublicKey})
}

func (h *Handlers) handleSubscribeWebPush(c *gin.Context) {
	var req webPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.Validation("", "endpoint is required"))
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		response.Error(c, errors.Validation("", "subscription needs an https endpoint and both keys"))
		return
	}
	sub := &models.WebPushSubscription{
		UserID:   middleware.CurrentUserID(c),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := models.SaveWebPushSubscription(h.db.WithContext(c.Request.Context()), sub); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "subscription saved", nil)
}

func (h *Handlers) handleUnsubscribeWebPush(c *gin.Context) {
	var req webPushDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.Validation("", "endpoint is required"))
		return
	}
	removed, err := models.DeleteWebPushSubscription(h.db.WithContext(c.Request.Context()), middleware.CurrentUserID(c), req.Endpoint)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !removed {
		response.Error(c, errors.NotFound("subscription not found"))
		return
	}
	response.Success(c, "subscription removed", nil)
}
