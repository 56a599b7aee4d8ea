package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

const DefaultChannel = "voice_coach_events"

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisBus(rdb, envutil.String("REDIS_CHANNEL", DefaultChannel), log), nil
}

func newRedisBus(rdb *goredis.Client, channel string, log *logger.Logger) *redisBus {
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = DefaultChannel
	}
	return &redisBus{
		log:     log.With("service", "RedisEventBus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *redisBus) Publish(ctx context.Context, n Notification) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(n Notification)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
					b.log.Warn("bad redis event payload", "error", err)
					continue
				}
				onMsg(n)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// RedisClient returns the redis connection behind b, if any.
func RedisClient(b Bus) *goredis.Client {
	if rb, ok := b.(*redisBus); ok {
		return rb.rdb
	}
	return nil
}
