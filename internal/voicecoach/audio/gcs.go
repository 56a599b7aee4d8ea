package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/voicecoach-backend/internal/platform/gcp"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

const maxAudioBytes = 25 << 20

type gcsStore struct {
	log           *logger.Logger
	client        *storage.Client
	httpClient    *http.Client
	bucket        string
	emulatorHost  string
	publicBaseURL string
	signTTL       time.Duration
}

func NewGCSStore(ctx context.Context, cfg Config, baseLog *logger.Logger) (Store, error) {
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	s := newGCSStore(client, cfg, baseLog)
	s.log.Info(
		"Audio storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", cfg.Bucket,
	)
	return s, nil
}

func newGCSStore(client *storage.Client, cfg Config, baseLog *logger.Logger) *gcsStore {
	ttl := cfg.SignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &gcsStore{
		log:           baseLog.With("service", "AudioStore"),
		client:        client,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		bucket:        cfg.Bucket,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		signTTL:       ttl,
	}
}

func newStorageClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	switch cfg.Mode {
	case ModeGCS:
		return storage.NewClient(ctx, gcp.ClientOptionsFromEnv(option.WithScopes(storage.ScopeReadWrite))...)
	case ModeGCSEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func (s *gcsStore) isEmulator() bool { return s.emulatorHost != "" }

func (s *gcsStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForPath(path)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write audio to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Download(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if s.isEmulator() {
		return s.emulatorDownload(ctx, path)
	}
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("download %q: %w", path, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()
	return readLimited(r)
}

func (s *gcsStore) emulatorDownload(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.emulatorObjectURL(path, true), nil)
	if err != nil {
		return nil, fmt.Errorf("failed creating emulator download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed emulator download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("download %q: %w", path, ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return readLimited(resp.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio object exceeds %d bytes", maxAudioBytes)
	}
	return data, nil
}

// Sign returns a V4 signed GET URL. Emulator objects are public, so the
// emulator media URL is returned instead.
func (s *gcsStore) Sign(_ context.Context, path string) (string, error) {
	if s.isEmulator() {
		return s.publicEmulatorURL(path), nil
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.signTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign %q: %w", path, err)
	}
	return u, nil
}

func (s *gcsStore) Exists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.isEmulator() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.emulatorObjectURL(path, false), nil)
		if err != nil {
			return false, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, fmt.Errorf("emulator attrs failed: status=%d", resp.StatusCode)
		}
	}
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attrs %q: %w", path, err)
	}
	return true, nil
}

func (s *gcsStore) emulatorObjectURL(path string, media bool) string {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", s.emulatorHost, url.PathEscape(s.bucket), url.PathEscape(path))
	if media {
		u += "?alt=media"
	}
	return u
}

func (s *gcsStore) publicEmulatorURL(path string) string {
	base := s.publicBaseURL
	if base == "" {
		base = s.emulatorHost
	}
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(s.bucket), url.PathEscape(path))
}
