package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
)

const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRequestID = "X-Request-Id"
)

// Trace attaches trace and request ids to the request context. The trace id
// prefers the active otel span so logs and spans line up; clients may pin
// either id through the matching header.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		var spanTrace string
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			spanTrace = sc.TraceID().String()
		}
		td := &ctxutil.TraceData{
			TraceID:   firstNonEmpty(c.GetHeader(HeaderTraceID), spanTrace),
			RequestID: firstNonEmpty(c.GetHeader(HeaderRequestID)),
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Header(HeaderTraceID, td.TraceID)
		c.Header(HeaderRequestID, td.RequestID)
		c.Next()
	}
}

// firstNonEmpty falls back to a fresh uuid.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return uuid.NewString()
}
