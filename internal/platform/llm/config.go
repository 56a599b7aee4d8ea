package llm

import (
	"fmt"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
)

type Config struct {
	// Provider is one of "openai", "anthropic", "gemini", "mock", "none".
	Provider string

	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Retry     RetryConfig

	// Timeout bounds one Generate call including retries.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Anthropic: AnthropicConfig{Model: "claude-haiku-4-5-20251001"},
		OpenAI:    OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:    GeminiConfig{Model: "gemini-2.0-flash"},
		Retry: RetryConfig{
			MaxAttempts: 2,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     4 * time.Second,
			Multiplier:  2.0,
		},
		Timeout: 25 * time.Second,
	}
}

// ConfigFromEnv reads VOICE_COACH_LLM_* and the vendor API keys.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Provider = envutil.String("VOICE_COACH_LLM_PROVIDER", cfg.Provider)

	cfg.OpenAI.APIKey = envutil.String("OPENAI_API_KEY", "")
	cfg.OpenAI.Model = envutil.String("VOICE_COACH_OPENAI_MODEL", cfg.OpenAI.Model)
	cfg.OpenAI.BaseURL = envutil.String("OPENAI_BASE_URL", "")

	cfg.Anthropic.APIKey = envutil.String("ANTHROPIC_API_KEY", "")
	cfg.Anthropic.Model = envutil.String("VOICE_COACH_ANTHROPIC_MODEL", cfg.Anthropic.Model)

	cfg.Gemini.APIKey = envutil.String("GEMINI_API_KEY", "")
	cfg.Gemini.Model = envutil.String("VOICE_COACH_GEMINI_MODEL", cfg.Gemini.Model)

	cfg.Retry.MaxAttempts = envutil.Int("VOICE_COACH_LLM_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Timeout = envutil.Seconds("VOICE_COACH_LLM_TIMEOUT_SEC", cfg.Timeout)
	return cfg
}

func (c Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case "mock", "none":
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	return nil
}
