package response

import (
	"net/http"

	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Success writes a 200 envelope.
func Success(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, gin.H{"msg": msg, "data": data})
}

// Created writes a 201 envelope.
func Created(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusCreated, gin.H{"msg": msg, "data": data})
}

// Fail writes a 400 with a plain message.
func Fail(c *gin.Context, msg string, data any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "data": data})
}

// Error renders err with its mapped status. Internal details are not exposed.
func Error(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	body := gin.H{"error": errors.GetMessage(err)}
	if reason := errors.GetReason(err); reason != "" {
		body["code"] = reason
	}
	var coded *errors.Error
	if errors.As(err, &coded) {
		for _, kv := range coded.Context {
			body[kv.Key] = kv.Value
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(errors.Cause(err)))
		body = gin.H{"error": "internal server error"}
	}
	c.AbortWithStatusJSON(status, body)
}
