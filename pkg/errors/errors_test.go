package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   int
		status int
		reason string
	}{
		{"validation", Validation(ReasonNullIsland, "bad coordinates"), CodeValidation, http.StatusBadRequest, ReasonNullIsland},
		{"unauthorized", Unauthorized("missing token"), CodeUnauthorized, http.StatusUnauthorized, ""},
		{"forbidden", Forbidden(ReasonNotCreator, "only the creator may end"), CodeForbidden, http.StatusForbidden, ReasonNotCreator},
		{"not found", NotFound("emergency not found"), CodeNotFound, http.StatusNotFound, ""},
		{"conflict", Conflict(ReasonActiveEmergencyExists, "already active"), CodeConflict, http.StatusConflict, ReasonActiveEmergencyExists},
		{"rate limited", RateLimited("slow down"), CodeRateLimited, http.StatusTooManyRequests, ReasonRateLimited},
		{"internal", Internal(fmt.Errorf("disk full"), "save failed"), CodeInternal, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.reason, GetReason(tt.err))
			assert.NotEmpty(t, tt.err.Stack)
		})
	}
}

func TestWrapKeepsCodeAndReason(t *testing.T) {
	base := Conflict(ReasonEmergencyInactive, "emergency is not active")
	wrapped := Wrap(base, "post message")

	assert.Equal(t, CodeConflict, GetCode(wrapped))
	assert.Equal(t, ReasonEmergencyInactive, GetReason(wrapped))
	assert.True(t, stderrors.Is(wrapped, base))

	outer := fmt.Errorf("handler: %w", wrapped)
	assert.Equal(t, CodeConflict, GetCode(outer))
	assert.Equal(t, http.StatusConflict, HTTPStatus(outer))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "noop"))
	assert.Nil(t, Wrapf(nil, "noop %d", 1))
}

func TestPlainErrorIsInternal(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, CodeUnknown, GetCode(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "boom", GetMessage(err))
}

func TestWithContextCopies(t *testing.T) {
	base := Conflict(ReasonActiveEmergencyExists, "already active")
	withID := base.WithContext("emergency_id", "e-1")

	require.Len(t, withID.Context, 1)
	assert.Empty(t, base.Context)
	assert.Equal(t, "e-1", withID.ContextValue("emergency_id"))
	assert.Equal(t, "", withID.ContextValue("missing"))
	assert.Equal(t, base.Reason, withID.Reason)
}

func TestCause(t *testing.T) {
	root := fmt.Errorf("root")
	err := Wrap(Wrap(root, "inner"), "outer")
	assert.Equal(t, root, Cause(err))
}

func TestFormat(t *testing.T) {
	err := Wrap(fmt.Errorf("db closed"), "load emergency")
	assert.Equal(t, "load emergency", fmt.Sprintf("%s", err))
	assert.Equal(t, `"load emergency"`, fmt.Sprintf("%q", err))
	assert.Contains(t, fmt.Sprintf("%+v", err), "db closed")
}
