package llm

import (
	"context"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type contextKey string

const purposeKey contextKey = "llm_purpose"

// WithPurpose labels the calls made with ctx in logs.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok {
		return v
	}
	return "unknown"
}

type loggingProvider struct {
	inner Provider
	log   *logger.Logger
}

func WithLogging(p Provider, baseLog *logger.Logger) Provider {
	if baseLog == nil {
		return p
	}
	return &loggingProvider{inner: p, log: baseLog.With("component", "llm", "model", p.ModelID())}
}

func (l *loggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	kv := []interface{}{
		"purpose", PurposeFrom(ctx),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if req.Schema != nil {
		kv = append(kv, "schema", req.Schema.Name)
	}
	if resp != nil {
		kv = append(kv, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	}
	if err != nil {
		l.log.Warn("llm request failed", append(kv, "error", err)...)
		return nil, err
	}
	l.log.Debug("llm request", kv...)
	return resp, nil
}

func (l *loggingProvider) ModelID() string { return l.inner.ModelID() }
