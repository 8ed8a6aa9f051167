package handlers

import (
	"strings"
	"time"

	"SafeCircle/internal/emergency"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

type respondRequest struct {
	Status string `json:"status" binding:"required"`
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) handleCreateEmergency(c *gin.Context) {
	result, err := h.emergencies.Create(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "emergency created", result)
}

func (h *Handlers) handleListEmergencies(c *gin.Context) {
	list, err := h.emergencies.List(c.Request.Context(), middleware.CurrentUserID(c), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", list)
}

func (h *Handlers) handleActiveEmergency(c *gin.Context) {
	active, err := h.emergencies.Active(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", active)
}

func (h *Handlers) handleGetEmergency(c *gin.Context) {
	details, err := h.emergencies.Get(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", details)
}

func (h *Handlers) handleEndEmergency(c *gin.Context) {
	e, err := h.emergencies.End(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "emergency ended", e)
}

func (h *Handlers) handleCancelEmergency(c *gin.Context) {
	e, err := h.emergencies.Cancel(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "emergency cancelled", e)
}

func (h *Handlers) handleEscalateEmergency(c *gin.Context) {
	var req escalateRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errors.Validation("", "invalid request body"))
			return
		}
	}
	if err := h.emergencies.Escalate(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), strings.TrimSpace(req.Reason)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "emergency escalated", nil)
}

func (h *Handlers) handleListParticipants(c *gin.Context) {
	participants, err := h.emergencies.Participants(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", participants)
}

func (h *Handlers) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.Validation(errors.ReasonInvalidStatus, "status must be accepted or rejected"))
		return
	}
	p, err := h.emergencies.Respond(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "response recorded", p)
}

func (h *Handlers) handleReportLocation(c *gin.Context) {
	var in emergency.LocationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, errors.Validation("", "invalid request body"))
		return
	}
	sample, err := h.emergencies.ReportLocation(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "location recorded", sample)
}

func (h *Handlers) handleLatestLocations(c *gin.Context) {
	locations, err := h.emergencies.LatestLocations(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", locations)
}

func (h *Handlers) handleLocationTrail(c *gin.Context) {
	since, err := queryTime(c, "since")
	if err != nil {
		response.Error(c, err)
		return
	}
	trail, err := h.emergencies.Trail(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c),
		c.Query("user_id"), since, queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", trail)
}

// queryInt returns 0 for a missing or malformed value; callers apply their own default.
func queryInt(c *gin.Context, key string) int {
	n, err := cast.ToIntE(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// queryTime parses an RFC 3339 query value. Missing means the zero time.
func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Validation("", key+" must be an RFC 3339 timestamp")
	}
	return t, nil
}
