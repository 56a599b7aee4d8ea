package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// localBus fans notifications out to forwarders in the same process. Used in
// single-binary deployments and tests.
type localBus struct {
	log    *logger.Logger
	mu     sync.RWMutex
	subs   map[int]func(Notification)
	nextID int
	closed bool
}

func NewLocalBus(log *logger.Logger) Bus {
	return &localBus{
		log:  log.With("service", "LocalEventBus"),
		subs: make(map[int]func(Notification)),
	}
}

func (b *localBus) Publish(_ context.Context, n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus closed")
	}
	for _, fn := range b.subs {
		fn(n)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(n Notification)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[int]func(Notification){}
	return nil
}
