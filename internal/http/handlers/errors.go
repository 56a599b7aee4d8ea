package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/http/response"
	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
)

// respondServiceError maps service errors onto the JSON error envelope.
func respondServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	if ae, ok := apierr.As(err); ok {
		response.RespondError(c, ae.Status, ae.Code, ae.Err)
		return
	}
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		response.RespondError(c, status, code, errors.New("处理失败，请稍后重试"))
		return
	}
	response.RespondError(c, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrUnsupportedAudio):
		return http.StatusBadRequest, "unsupported_audio_format"
	case errors.Is(err, types.ErrInvalidSequence):
		return http.StatusBadRequest, "invalid_sequence"
	case errors.Is(err, types.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role"
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, types.ErrSessionClosed):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "voice_coach_error"
	}
}
