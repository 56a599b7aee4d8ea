package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/voicecoach-backend/internal/observability"
)

// Metrics records per-route latency and the in-flight gauge. Long-lived
// event streams are counted once they close, under their route template.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.FullPath() == "/metrics" {
			c.Next()
			return
		}
		m.ApiInflightInc()
		start := time.Now()
		defer func() {
			m.ApiInflightDec()
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
		}()
		c.Next()
	}
}
