package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// quietPaths are polled constantly and only logged when they fail.
var quietPaths = map[string]bool{
	"/healthcheck": true,
	"/readyz":      true,
	"/metrics":     true,
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		if quietPaths[route] && status < 400 {
			return
		}
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx := c.Request.Context()
		kv := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(ctx); td != nil {
			kv = append(kv, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		if uid := ctxutil.UserID(ctx); uid != uuid.Nil {
			kv = append(kv, "user_id", uid.String())
		}
		if sid := c.Param("id"); sid != "" {
			kv = append(kv, "session_id", sid)
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", kv...)
		case status >= 400:
			log.Warn("HTTP request", kv...)
		default:
			log.Debug("HTTP request", kv...)
		}
	}
}
