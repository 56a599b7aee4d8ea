package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

func TestResolveConfigFromEnvDefaultGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("VOICE_COACH_AUDIO_BUCKET", "")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Mode != ModeGCS || cfg.Bucket != DefaultBucket || cfg.SignTTL != time.Hour {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CompatibilityFallback {
		t.Fatalf("compatibility fallback: want=false got=true")
	}
}

func TestResolveConfigFromEnvCompatibilityFallback(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Mode != ModeGCSEmulator || !cfg.CompatibilityFallback {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host not trimmed: %q", cfg.EmulatorHost)
	}
}

func TestResolveConfigFromEnvMemory(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "MEMORY")
	t.Setenv("VOICE_COACH_AUDIO_SIGN_TTL_SEC", "120")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Mode != ModeMemory || cfg.SignTTL != 2*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestResolveConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name string
		mode string
		host string
		code ConfigErrorCode
	}{
		{name: "invalid mode", mode: "s3", code: ConfigErrorInvalidMode},
		{name: "missing host", mode: "gcs_emulator", code: ConfigErrorMissingEmulatorHost},
		{name: "bad host", mode: "gcs_emulator", host: "fake-gcs:4443", code: ConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.host)
			_, err := ResolveConfigFromEnv()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Code != tc.code {
				t.Fatalf("code: want=%q got=%q", tc.code, cfgErr.Code)
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")
	path := TurnAudioPath(uuid.New(), uuid.New(), uuid.New(), types.AudioWAV)
	if !strings.HasSuffix(path, ".wav") {
		t.Fatalf("path: %q", path)
	}

	if ok, _ := m.Exists(ctx, path); ok {
		t.Fatalf("object should not exist yet")
	}
	if _, err := m.Sign(ctx, path); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("sign missing: %v", err)
	}
	if err := m.Upload(ctx, path, []byte("RIFF"), ContentTypeForPath(path)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := m.Download(ctx, path)
	if err != nil || string(got) != "RIFF" {
		t.Fatalf("Download: %q %v", got, err)
	}
	if m.ContentType(path) != "audio/wav" {
		t.Fatalf("content type: %q", m.ContentType(path))
	}
	u, err := m.Sign(ctx, path)
	if err != nil || !strings.HasPrefix(u, "memory://"+DefaultBucket+"/") {
		t.Fatalf("Sign: %q %v", u, err)
	}
	if SignOrNil(ctx, m, &path) == nil {
		t.Fatalf("SignOrNil returned nil for stored object")
	}
	missing := "nope.mp3"
	if SignOrNil(ctx, m, &missing) != nil || SignOrNil(ctx, m, nil) != nil {
		t.Fatalf("SignOrNil should swallow missing objects")
	}
}

func TestTurnAudioPathDefaultsToMP3(t *testing.T) {
	u, s, turn := uuid.New(), uuid.New(), uuid.New()
	want := u.String() + "/" + s.String() + "/" + turn.String() + ".mp3"
	if got := TurnAudioPath(u, s, turn, ""); got != want {
		t.Fatalf("path: want=%q got=%q", want, got)
	}
}

func TestEmulatorDownloadExistsAndSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.EscapedPath() == "/storage/v1/b/voice-coach-audio/o/u%2Fs%2Ft.mp3" && r.URL.Query().Get("alt") == "media":
			_, _ = w.Write([]byte("ID3"))
		case r.URL.EscapedPath() == "/storage/v1/b/voice-coach-audio/o/u%2Fs%2Ft.mp3":
			_, _ = w.Write([]byte(`{"name":"u/s/t.mp3"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newGCSStore(nil, Config{Mode: ModeGCSEmulator, Bucket: DefaultBucket, EmulatorHost: srv.URL}, logger.Nop())
	ctx := context.Background()

	data, err := s.Download(ctx, "u/s/t.mp3")
	if err != nil || string(data) != "ID3" {
		t.Fatalf("Download: %q %v", data, err)
	}
	if _, err := s.Download(ctx, "u/s/missing.mp3"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("missing download: %v", err)
	}
	ok, err := s.Exists(ctx, "u/s/t.mp3")
	if err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	ok, err = s.Exists(ctx, "u/s/missing.mp3")
	if err != nil || ok {
		t.Fatalf("Exists missing: %v %v", ok, err)
	}
	u, err := s.Sign(ctx, "u/s/t.mp3")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if u != srv.URL+"/storage/v1/b/voice-coach-audio/o/u%2Fs%2Ft.mp3?alt=media" {
		t.Fatalf("signed url: %q", u)
	}
}
