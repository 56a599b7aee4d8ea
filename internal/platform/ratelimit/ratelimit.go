// Package ratelimit bounds how often a key may act within a window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type Limiter interface {
	// Allow records one hit for key and reports whether it is within limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns a redis-backed limiter when rdb is set so every replica shares
// the window, else an in-process one. limit <= 0 disables limiting.
func New(rdb *goredis.Client, limit int, window time.Duration, baseLog *logger.Logger) Limiter {
	if limit <= 0 {
		return Unlimited{}
	}
	if window <= 0 {
		window = time.Minute
	}
	if rdb != nil {
		return NewRedisWindow(rdb, "voice_coach:ratelimit", limit, window, baseLog)
	}
	return NewLocal(limit, window)
}

type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// RedisWindow is a fixed-window counter: INCR on the bucket key, EXPIRE on
// the first hit.
type RedisWindow struct {
	rdb    *goredis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
	log    *logger.Logger
}

func NewRedisWindow(rdb *goredis.Client, prefix string, limit int, window time.Duration, baseLog *logger.Logger) *RedisWindow {
	return &RedisWindow{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    baseLog.With("service", "RedisRateLimiter"),
	}
}

func (r *RedisWindow) bucketKey(key string) string {
	bucket := r.now().UnixNano() / int64(r.window)
	return fmt.Sprintf("%s:%s:%d", r.prefix, key, bucket)
}

func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	k := r.bucketKey(key)
	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		if err := r.rdb.Expire(ctx, k, r.window).Err(); err != nil {
			r.log.Warn("ratelimit expire failed", "key", k, "error", err)
		}
	}
	return n <= int64(r.limit), nil
}

// Local keeps one token bucket per key refilling limit tokens per window.
// Idle buckets are dropped once they would be full again.
type Local struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewLocal(limit int, window time.Duration) *Local {
	return &Local{
		limit:   limit,
		window:  window,
		buckets: map[string]*localBucket{},
		now:     time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

func (l *Local) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, k)
		}
	}
}

// Len reports how many keys are tracked.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
