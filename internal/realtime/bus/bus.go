// Package bus carries session wakeups between API and worker processes.
package bus

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// Notification says that a session's event log grew up to EventID.
type Notification struct {
	SessionID uuid.UUID `json:"session_id"`
	EventID   int64     `json:"event_id"`
}

type Bus interface {
	Publish(ctx context.Context, n Notification) error
	StartForwarder(ctx context.Context, onMsg func(n Notification)) error
	Close() error
}

// NewFromEnv returns a redis bus when REDIS_ADDR is set and an in-process bus
// otherwise.
func NewFromEnv(log *logger.Logger) (Bus, error) {
	if strings.TrimSpace(envutil.String("REDIS_ADDR", "")) == "" {
		log.Info("REDIS_ADDR not set; using in-process event bus")
		return NewLocalBus(log), nil
	}
	return NewRedisBus(log)
}
