package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/voicecoach-backend/internal/http/handlers"
	httpMW "github.com/yungbote/voicecoach-backend/internal/http/middleware"
	"github.com/yungbote/voicecoach-backend/internal/observability"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/guard"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware
	Guard          *guard.Guard

	VoiceCoachHandler *httpH.VoiceCoachHandler
	EventsHandler     *httpH.EventsHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.Trace())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) { cfg.Metrics.WriteHTTP(c.Writer, c.Request) })
	}

	vc := r.Group("/api/voice-coach")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			vc.Use(cfg.AuthMiddleware.RequireAuth())
		}
		if cfg.Guard != nil {
			vc.Use(httpMW.RequireVoiceCoach(cfg.Guard))
		}

		if h := cfg.VoiceCoachHandler; h != nil {
			vc.GET("/catalog", h.Catalog)
			vc.POST("/sessions", h.CreateSession)
			vc.GET("/sessions/:id", h.GetSession)
			vc.POST("/sessions/:id/beautician-turn", h.SubmitTurn)
			vc.GET("/sessions/:id/turns/:turnId", h.GetTurn)
			vc.POST("/sessions/:id/turns/:turnId/analysis", h.Analysis)
			vc.POST("/sessions/:id/turns/:turnId/tts", h.TTS)
			vc.POST("/sessions/:id/hint", h.Hint)
			vc.POST("/sessions/:id/rollback", h.Rollback)
			vc.POST("/sessions/:id/end", h.End)
			vc.GET("/sessions/:id/report", h.Report)
		}

		// Events (long-poll and SSE)
		if h := cfg.EventsHandler; h != nil {
			vc.GET("/sessions/:id/events", h.Poll)
			vc.GET("/sessions/:id/events/stream", h.Stream)
		}
	}

	return r
}
