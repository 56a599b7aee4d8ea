// Package audio stores practice recordings and synthesized customer audio
// and hands out time-limited URLs for playback.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

var ErrObjectNotFound = errors.New("audio object not found")

// Store is the blob capability used by sessions, the pump and reports.
// Paths are bucket-relative keys such as "{user}/{session}/{turn}.mp3".
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Sign(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// New builds the store selected by cfg.Mode.
func New(ctx context.Context, cfg Config, baseLog *logger.Logger) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate audio storage config: %w", err)
	}
	if cfg.Mode == ModeMemory {
		baseLog.Info("Audio storage initialized", "mode", cfg.Mode)
		return NewMemoryStore(cfg.Bucket), nil
	}
	return NewGCSStore(ctx, cfg, baseLog)
}

// TurnAudioPath is the canonical key for a turn's audio.
func TurnAudioPath(userID, sessionID, turnID uuid.UUID, format types.AudioFormat) string {
	if format == "" {
		format = types.AudioMP3
	}
	return fmt.Sprintf("%s/%s/%s.%s", userID, sessionID, turnID, format)
}

// ContentTypeForPath maps an audio key extension to its MIME type.
func ContentTypeForPath(path string) string {
	s := strings.ToLower(strings.TrimSpace(path))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".wav"):
		return types.AudioWAV.ContentType()
	case strings.HasSuffix(s, ".ogg"), strings.HasSuffix(s, ".opus"):
		return types.AudioOGG.ContentType()
	case strings.HasSuffix(s, ".flac"):
		return types.AudioFLAC.ContentType()
	case strings.HasSuffix(s, ".mp3"):
		return types.AudioMP3.ContentType()
	default:
		return "application/octet-stream"
	}
}

// SignOrNil signs path and swallows failures; playback URLs are optional.
func SignOrNil(ctx context.Context, s Store, path *string) *string {
	if s == nil || path == nil || strings.TrimSpace(*path) == "" {
		return nil
	}
	u, err := s.Sign(ctx, *path)
	if err != nil || u == "" {
		return nil
	}
	return &u
}
