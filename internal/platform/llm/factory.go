package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// NewProvider builds the configured provider wrapped as
// caller -> timeout -> retry -> logging -> vendor.
// "none" yields a provider that always reports unavailability, which every
// caller treats as a degraded result.
func NewProvider(ctx context.Context, cfg Config, log *logger.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "mock", "none":
		return NewMockProvider(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithTimeout(WithRetry(WithLogging(base, log), cfg.Retry), cfg.Timeout), nil
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{inner: p, timeout: d}
}

func (t *timeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, req)
}

func (t *timeoutProvider) ModelID() string { return t.inner.ModelID() }
