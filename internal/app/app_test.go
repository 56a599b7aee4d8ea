package app

import (
	"context"
	"testing"
	"time"
)

func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_MODE", "development")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("OBJECT_STORAGE_MODE", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("VOICE_COACH_LLM_PROVIDER", "mock")
	t.Setenv("VOICE_COACH_ASR_ENABLED", "false")
	t.Setenv("VOICE_COACH_TTS_ENABLED", "false")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("JWT_SECRET_KEY", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")
	t.Setenv("VOICE_COACH_RATE_LIMIT_PER_MIN", "")
	t.Setenv("VOICE_COACH_MAX_AUDIO_BYTES", "")
	cfg := LoadConfig(nil)
	if cfg.Port != "8080" {
		t.Fatalf("port: %q", cfg.Port)
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.RateLimitPerMin != 10 {
		t.Fatalf("rate limit: %d", cfg.RateLimitPerMin)
	}
	if cfg.MaxAudioBytes != 10<<20 {
		t.Fatalf("max audio bytes: %d", cfg.MaxAudioBytes)
	}
	if cfg.InlinePump {
		t.Fatalf("inline pump should default off")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("VOICE_COACH_RATE_LIMIT_PER_MIN", "3")
	t.Setenv("VOICE_COACH_INLINE_PUMP", "true")
	t.Setenv("ACCESS_TOKEN_TTL", "120")
	cfg := LoadConfig(nil)
	if cfg.RateLimitPerMin != 3 || !cfg.InlinePump {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.AccessTokenTTL != 2*time.Minute {
		t.Fatalf("ttl: %v", cfg.AccessTokenTTL)
	}
}

func TestNewWiresLocalStack(t *testing.T) {
	localEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.Server == nil || a.Worker == nil || a.Sessions == nil || a.Pump == nil {
		t.Fatalf("components not wired: %+v", a)
	}

	runCtx, err := a.Start(ctx, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Start(ctx, true); err == nil {
		t.Fatalf("second Start should fail")
	}
	a.Close()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("Close did not cancel the run context")
	}
}

func TestMigrate(t *testing.T) {
	localEnv(t)
	a, err := New(context.Background())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if err := Migrate(a.Log); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}
