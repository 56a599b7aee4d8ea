package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/voicecoach-backend/internal/http/response"
	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/guard"
)

// RequireVoiceCoach rejects callers the feature flag or allow-list excludes.
// It must run after RequireAuth.
func RequireVoiceCoach(g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Check(ctxutil.UserID(c.Request.Context())); err != nil {
			if ae, ok := apierr.As(err); ok {
				response.Abort(c, ae.Status, ae.Code, ae.Error())
				return
			}
			response.Abort(c, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		c.Next()
	}
}
