package handlers

import (
	"net/http"

	"SafeCircle/internal/chat"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

func (h *Handlers) handlePostMessage(c *gin.Context) {
	var in chat.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, errors.Validation("", "invalid request body"))
		return
	}
	msg, err := h.chat.PostMessage(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "message sent", msg)
}

func (h *Handlers) handleListMessages(c *gin.Context) {
	before, err := queryTime(c, "before")
	if err != nil {
		response.Error(c, err)
		return
	}
	messages, err := h.chat.ListMessages(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), before, queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", messages)
}

// handleUploadAttachment takes a multipart "file" field and returns the
// attachment to reference in a following message.
func (h *Handlers) handleUploadAttachment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errors.Validation(errors.ReasonInvalidAttachment, "multipart field \"file\" is required"))
		return
	}
	if header.Size > h.maxUpload {
		response.Error(c, errors.Validation(errors.ReasonInvalidAttachment, "file too large").
			WithContext("max_bytes", cast.ToString(h.maxUpload)))
		return
	}

	f, err := header.Open()
	if err != nil {
		response.Error(c, errors.Internal(err, "open upload"))
		return
	}
	defer f.Close()

	attachment, err := h.chat.UploadAttachment(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), chat.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "attachment stored", attachment)
}
