package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func turnSchema() *Schema {
	return &Schema{
		Name: "test-turn",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":    map[string]any{"type": "string", "minLength": 1},
				"emotion": map[string]any{"type": "string", "enum": []any{"neutral", "worried"}},
			},
			"required":             []any{"text", "emotion"},
			"additionalProperties": false,
		},
	}
}

func TestValidateResponse(t *testing.T) {
	if err := validateResponse(turnSchema(), json.RawMessage(`{"text":"hi","emotion":"neutral"}`)); err != nil {
		t.Fatalf("valid: %v", err)
	}
	for _, raw := range []string{
		`{"text":"","emotion":"neutral"}`,
		`{"text":"hi","emotion":"angry"}`,
		`{"text":"hi"}`,
		`not json`,
	} {
		err := validateResponse(turnSchema(), json.RawMessage(raw))
		var inv *ErrInvalidResponse
		if !errors.As(err, &inv) {
			t.Fatalf("%s: want ErrInvalidResponse got=%v", raw, err)
		}
	}
	if err := validateResponse(nil, json.RawMessage(`anything`)); err != nil {
		t.Fatalf("nil schema: %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	got := string(extractJSON("```json\n{\"a\":1}\n```"))
	if got != `{"a":1}` {
		t.Fatalf("extractJSON: got=%q", got)
	}
	got = string(extractJSON("好的：{\"a\":1} 以上"))
	if got != `{"a":1}` {
		t.Fatalf("extractJSON prose: got=%q", got)
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: &ErrProviderUnavailable{}},
		MockResponse{Content: json.RawMessage(`{"text":"ok","emotion":"neutral"}`)},
	)
	p := WithRetry(mock, fastRetry())
	resp, err := p.Generate(context.Background(), UserPrompt("sys", "user", turnSchema(), 0.5))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(resp.Content) != `{"text":"ok","emotion":"neutral"}` {
		t.Fatalf("content: %s", resp.Content)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("calls: want=2 got=%d", mock.CallCount())
	}
}

func TestRetryGivesInvalidResponseOneRetry(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"text":""}`)},
		MockResponse{Content: json.RawMessage(`{"text":""}`)},
		MockResponse{Content: json.RawMessage(`{"text":"ok","emotion":"neutral"}`)},
	)
	p := WithRetry(mock, fastRetry())
	_, err := p.Generate(context.Background(), UserPrompt("", "u", turnSchema(), 0))
	var inv *ErrInvalidResponse
	if !errors.As(err, &inv) {
		t.Fatalf("want ErrInvalidResponse got=%v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("calls: want=2 got=%d", mock.CallCount())
	}
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: context.Canceled})
	p := WithRetry(mock, fastRetry())
	_, err := p.Generate(context.Background(), Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got=%v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls: want=1 got=%d", mock.CallCount())
	}
}

func TestMockEmptyQueueIsUnavailable(t *testing.T) {
	_, err := NewMockProvider().Generate(context.Background(), Request{})
	var unavail *ErrProviderUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("want ErrProviderUnavailable got=%v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "openai"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("openai without key should fail")
	}
	cfg.Provider = "none"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("none: %v", err)
	}
	cfg.Provider = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown provider should fail")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("VOICE_COACH_LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "k")
	t.Setenv("VOICE_COACH_LLM_TIMEOUT_SEC", "7")
	cfg := ConfigFromEnv()
	if cfg.Provider != "anthropic" || cfg.Anthropic.APIKey != "k" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.Timeout != 7*time.Second {
		t.Fatalf("timeout: got=%v", cfg.Timeout)
	}
}

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), model: "gpt-4o-mini"}
}

func chatCompletion(content, finish string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
		"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 25, "total_tokens": 65},
	}
}

func TestOpenAIProviderValidatesSchema(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`{"text":"这安全吗？","emotion":"worried"}`, "stop"))
	})
	resp, err := p.Generate(context.Background(), UserPrompt("sys", "u", turnSchema(), 0.7))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Usage.InputTokens != 40 || resp.StopReason != "end" {
		t.Fatalf("resp: %+v", resp)
	}

	bad := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`{"text":"x","emotion":"furious"}`, "stop"))
	})
	_, err = bad.Generate(context.Background(), UserPrompt("sys", "u", turnSchema(), 0.7))
	var inv *ErrInvalidResponse
	if !errors.As(err, &inv) {
		t.Fatalf("want ErrInvalidResponse got=%v", err)
	}
}

func TestOpenAIProviderRateLimit(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "tokens", "message": "Rate limit exceeded", "code": "rate_limit_exceeded"},
		})
	})
	_, err := p.Generate(context.Background(), UserPrompt("", "u", nil, 0))
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("want ErrRateLimit got=%T (%v)", err, err)
	}
}

func TestBuildGeminiSchema(t *testing.T) {
	s := buildGeminiSchema(turnSchema().Definition)
	if len(s.Properties) != 2 || len(s.Required) != 2 {
		t.Fatalf("schema: %+v", s)
	}
	if len(s.Properties["emotion"].Enum) != 2 {
		t.Fatalf("enum: %+v", s.Properties["emotion"])
	}
}
