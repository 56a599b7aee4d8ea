package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	invalidRetried := false

	for attempt := range r.config.MaxAttempts {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !r.shouldRetry(err, &invalidRetried) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.backoff(attempt, err)):
		}
	}
	return nil, lastErr
}

func (r *RetryProvider) ModelID() string { return r.inner.ModelID() }

func (r *RetryProvider) shouldRetry(err error, invalidRetried *bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var maxTok *ErrMaxTokensExceeded
	if errors.As(err, &maxTok) {
		return false
	}
	// One extra attempt for schema-invalid output.
	var invResp *ErrInvalidResponse
	if errors.As(err, &invResp) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}
	return true
}

func (r *RetryProvider) backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
