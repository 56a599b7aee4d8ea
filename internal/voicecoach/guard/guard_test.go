package guard

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
)

func TestDisabledByDefault(t *testing.T) {
	t.Setenv("VOICE_COACH_ENABLED", "")
	g := New(ConfigFromEnv())
	err := g.Check(uuid.New())
	e, ok := apierr.As(err)
	if !ok || e.Status != http.StatusNotFound || !errors.Is(err, ErrDisabled) {
		t.Fatalf("want 404 voice_coach_disabled got=%v", err)
	}
}

func TestAllowList(t *testing.T) {
	allowed := uuid.New()
	t.Setenv("VOICE_COACH_ENABLED", "true")
	t.Setenv("VOICE_COACH_ALLOW_USER_IDS", " "+allowed.String()+" , ,other")
	g := New(ConfigFromEnv())
	if err := g.Check(allowed); err != nil {
		t.Fatalf("allowed user: %v", err)
	}
	err := g.Check(uuid.New())
	if e, ok := apierr.As(err); !ok || e.Status != http.StatusForbidden || e.Code != "voice_coach_not_allowed" {
		t.Fatalf("want 403 got=%v", err)
	}
}

func TestOpenWhenNoAllowList(t *testing.T) {
	g := New(Config{Enabled: true})
	if err := g.Check(uuid.New()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if g.MaxTurns() != DefaultMaxTurns {
		t.Fatalf("max turns default: %d", g.MaxTurns())
	}
}

func TestMaxTurnsFromEnv(t *testing.T) {
	t.Setenv("VOICE_COACH_MAX_TURNS", "4")
	if got := New(ConfigFromEnv()).MaxTurns(); got != 4 {
		t.Fatalf("max turns: %d", got)
	}
	t.Setenv("VOICE_COACH_MAX_TURNS", "0")
	if got := New(ConfigFromEnv()).MaxTurns(); got != DefaultMaxTurns {
		t.Fatalf("max turns floor: %d", got)
	}
}
