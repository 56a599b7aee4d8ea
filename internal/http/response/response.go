// Package response writes the JSON bodies shared by every handler. Errors
// always use the {"error": {...}} envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func envelope(c *gin.Context, code, message string) ErrorEnvelope {
	return ErrorEnvelope{Error: APIError{
		Message: message,
		Code:    code,
		TraceID: ctxutil.TraceID(c.Request.Context()),
	}}
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, envelope(c, code, msg))
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope(c, code, message))
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
