// Package guard decides whether a user may use the voice coach at all.
package guard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
)

const DefaultMaxTurns = 10

var (
	ErrDisabled   = errors.New("voice_coach_disabled")
	ErrNotAllowed = errors.New("voice_coach_not_allowed")
)

type Config struct {
	Enabled bool
	// AllowUserIDs restricts access when non-empty.
	AllowUserIDs []string
	MaxTurns     int
}

func ConfigFromEnv() Config {
	return Config{
		Enabled:      envutil.Bool("VOICE_COACH_ENABLED", false),
		AllowUserIDs: envutil.CSV("VOICE_COACH_ALLOW_USER_IDS"),
		MaxTurns:     envutil.Int("VOICE_COACH_MAX_TURNS", DefaultMaxTurns),
	}
}

type Guard struct {
	enabled  bool
	allow    map[string]struct{}
	maxTurns int
}

func New(cfg Config) *Guard {
	g := &Guard{enabled: cfg.Enabled, maxTurns: cfg.MaxTurns}
	if g.maxTurns < 1 {
		g.maxTurns = DefaultMaxTurns
	}
	for _, id := range cfg.AllowUserIDs {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if g.allow == nil {
			g.allow = map[string]struct{}{}
		}
		g.allow[id] = struct{}{}
	}
	return g
}

// Check returns an *apierr.Error with status 404 when the feature is off and
// 403 when the user is outside the allow-list.
func (g *Guard) Check(userID uuid.UUID) error {
	if g == nil || !g.enabled {
		return apierr.New(http.StatusNotFound, ErrDisabled.Error(), ErrDisabled)
	}
	if len(g.allow) > 0 {
		if _, ok := g.allow[strings.ToLower(userID.String())]; !ok {
			return apierr.New(http.StatusForbidden, ErrNotAllowed.Error(), ErrNotAllowed)
		}
	}
	return nil
}

func (g *Guard) MaxTurns() int {
	if g == nil {
		return DefaultMaxTurns
	}
	return g.maxTurns
}
