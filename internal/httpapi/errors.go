package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"channel-platform/internal/channels"
	"channel-platform/internal/evolution"
	"channel-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotConnected  = "INSTANCE_NOT_CONNECTED"
	CodeMissingTenant = "MISSING_TENANT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeChannel404    = "CHANNEL_NOT_FOUND"
	CodeAgent404      = "AGENT_NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeLinkBusy      = "LINK_IN_PROGRESS"
	CodeGateway       = "GATEWAY_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
)

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// writeError maps a service error to its HTTP answer. Gateway status errors
// pass the upstream status and body through.
func writeError(c *gin.Context, err error) {
	var se *evolution.StatusError
	switch {
	case errors.As(err, &se):
		writeUpstream(c, se)
	case errors.Is(err, channels.ErrNotConnected):
		abort(c, http.StatusBadRequest, CodeNotConnected, err.Error())
	case errors.Is(err, channels.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, channels.ErrNoTenant):
		abort(c, http.StatusBadRequest, CodeMissingTenant, "client_id required")
	case errors.Is(err, channels.ErrForbidden):
		abort(c, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, channels.ErrAgentNotFound):
		abort(c, http.StatusNotFound, CodeAgent404, "agent not found")
	case errors.Is(err, channels.ErrChannelNotFound):
		abort(c, http.StatusNotFound, CodeChannel404, err.Error())
	case errors.Is(err, channels.ErrLinkInProgress):
		abort(c, http.StatusConflict, CodeLinkBusy, err.Error())
	case errors.Is(err, channels.ErrConflict):
		abort(c, http.StatusConflict, CodeConflict, err.Error())
	default:
		_ = c.Error(err)
		logger.FromGin(c).ErrorContext(c.Request.Context(), "request failed", "err", err)
		abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func writeUpstream(c *gin.Context, se *evolution.StatusError) {
	status := se.StatusCode
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	var body any = se.Body
	if json.Valid([]byte(se.Body)) {
		body = json.RawMessage(se.Body)
	}
	logger.FromGin(c).WarnContext(c.Request.Context(), "gateway error passed through", "operation", se.Operation, "status", se.StatusCode)
	c.AbortWithStatusJSON(status, gin.H{"error": body, "code": CodeGateway})
}
