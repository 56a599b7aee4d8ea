package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/voicecoach-backend/internal/http/response"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler { return &HealthHandler{db: db} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Ready reports whether the database answers.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			response.RespondError(c, http.StatusServiceUnavailable, "db_unavailable", err)
			return
		}
	}
	c.String(http.StatusOK, "ready")
}
