package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/http/response"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/jwtauth"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type AuthMiddleware struct {
	log      *logger.Logger
	verifier *jwtauth.Verifier
}

func NewAuthMiddleware(log *logger.Logger, verifier *jwtauth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), verifier: verifier}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			response.Abort(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		ctx, err := am.verifier.ContextFromToken(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			response.Abort(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Request = c.Request.WithContext(ctx)
		if ctxutil.UserID(ctx) == uuid.Nil {
			response.Abort(c, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		c.Next()
	}
}

// extractTokenFromAll accepts ?token= for EventSource clients, which cannot
// set headers.
func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
