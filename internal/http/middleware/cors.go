package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
)

var defaultOrigins = []string{
	"http://localhost:80",
	"http://localhost:3000",
	"http://localhost:5174",
	"http://localhost:5173",
	"http://127.0.0.1:80",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5174",
	"http://127.0.0.1:5173",
}

// CORS allows the local dev origins plus CORS_ALLOW_ORIGINS.
func CORS() gin.HandlerFunc {
	origins := append([]string(nil), defaultOrigins...)
	origins = append(origins, envutil.CSV("CORS_ALLOW_ORIGINS")...)
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-Id", "X-Trace-Id", "Idempotency-Key", "Last-Event-ID"},
		ExposeHeaders:    []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
	})
}
