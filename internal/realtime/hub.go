// Package realtime routes session wakeups to long-poll and SSE waiters.
package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/realtime/bus"
)

// Waiter receives the newest event id published for one session.
type Waiter struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	C         chan int64
}

type SessionHub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[uuid.UUID]map[*Waiter]bool
}

func NewSessionHub(log *logger.Logger) *SessionHub {
	return &SessionHub{
		logger:        log.With("component", "SessionHub"),
		subscriptions: make(map[uuid.UUID]map[*Waiter]bool),
	}
}

// Subscribe registers a waiter for sessionID. The returned func removes it.
func (hub *SessionHub) Subscribe(sessionID uuid.UUID) (*Waiter, func()) {
	w := &Waiter{ID: uuid.New(), SessionID: sessionID, C: make(chan int64, 1)}

	hub.mu.Lock()
	waiters, ok := hub.subscriptions[sessionID]
	if !ok {
		waiters = make(map[*Waiter]bool)
		hub.subscriptions[sessionID] = waiters
	}
	waiters[w] = true
	hub.mu.Unlock()

	hub.logger.Debug("waiter subscribed", "waiter_id", w.ID, "session_id", sessionID)

	var once sync.Once
	return w, func() {
		once.Do(func() { hub.remove(w) })
	}
}

func (hub *SessionHub) remove(w *Waiter) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if waiters, ok := hub.subscriptions[w.SessionID]; ok {
		delete(waiters, w)
		if len(waiters) == 0 {
			delete(hub.subscriptions, w.SessionID)
		}
	}
}

// Notify wakes every waiter of the session. A waiter that has not drained its
// previous wakeup gets the newer id instead.
func (hub *SessionHub) Notify(n bus.Notification) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for w := range hub.subscriptions[n.SessionID] {
		select {
		case w.C <- n.EventID:
		default:
			select {
			case <-w.C:
			default:
			}
			select {
			case w.C <- n.EventID:
			default:
				hub.logger.Warn("dropping wakeup; waiter buffer full", "waiter_id", w.ID)
			}
		}
	}
}

func (hub *SessionHub) Len(sessionID uuid.UUID) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[sessionID])
}
