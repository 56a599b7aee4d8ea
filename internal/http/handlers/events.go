package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/http/response"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/realtime"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/session"
)

const (
	eventsPageSize = 50

	pollMinTimeout     = 1000 * time.Millisecond
	pollMaxTimeout     = 15000 * time.Millisecond
	pollDefaultTimeout = 8000 * time.Millisecond

	streamMinTimeout     = 5000 * time.Millisecond
	streamMaxTimeout     = 30000 * time.Millisecond
	streamDefaultTimeout = 25000 * time.Millisecond
)

// Pumper advances queued jobs of one session from the request path.
type Pumper interface {
	Pump(ctx context.Context, sessionID, userID uuid.UUID, maxJobs int) (int, error)
}

type EventsConfig struct {
	// Tick is the re-check interval while no wakeup arrives.
	Tick time.Duration
	// InlinePump drives the pump on every tick. Off when a worker runs.
	InlinePump bool
}

type EventsHandler struct {
	log      *logger.Logger
	sessions session.Service
	queue    *events.Queue
	store    audio.Store
	hub      *realtime.SessionHub
	pumper   Pumper
	cfg      EventsConfig
}

func NewEventsHandler(log *logger.Logger, sessions session.Service, queue *events.Queue, store audio.Store, hub *realtime.SessionHub, pumper Pumper, cfg EventsConfig) *EventsHandler {
	if cfg.Tick <= 0 {
		cfg.Tick = 220 * time.Millisecond
	}
	return &EventsHandler{
		log:      log.With("handler", "VoiceCoachEventsHandler"),
		sessions: sessions,
		queue:    queue,
		store:    store,
		hub:      hub,
		pumper:   pumper,
		cfg:      cfg,
	}
}

type eventView struct {
	ID             int64           `json:"id"`
	TS             time.Time       `json:"ts"`
	Type           types.EventType `json:"type"`
	TurnID         *uuid.UUID      `json:"turn_id"`
	JobID          *uuid.UUID      `json:"job_id"`
	Data           json.RawMessage `json:"data"`
	StageElapsedMs *int64          `json:"stage_elapsed_ms"`
}

type eventsPage struct {
	Events        []eventView         `json:"events"`
	NextCursor    int64               `json:"next_cursor"`
	HasMore       bool                `json:"has_more"`
	SessionStatus types.SessionStatus `json:"session_status,omitempty"`
	TraceID       string              `json:"trace_id,omitempty"`
}

func (h *EventsHandler) toViews(ctx context.Context, evs []*types.Event) []eventView {
	out := make([]eventView, 0, len(evs))
	for _, e := range evs {
		data := events.SignedData(ctx, h.store, e)
		v := eventView{ID: e.ID, TS: e.CreatedAt, Type: e.Type, TurnID: e.TurnID, JobID: e.JobID, Data: data}
		var stage struct {
			StageElapsedMs int64 `json:"stage_elapsed_ms"`
		}
		if json.Unmarshal(data, &stage) == nil && stage.StageElapsedMs > 0 {
			ms := stage.StageElapsedMs
			v.StageElapsedMs = &ms
		}
		out = append(out, v)
	}
	return out
}

func queryCursor(c *gin.Context) int64 {
	raw := c.Query("cursor")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func queryTimeout(c *gin.Context, def, min, max time.Duration) time.Duration {
	ms, err := strconv.Atoi(c.Query("timeout_ms"))
	if err != nil {
		return def
	}
	d := time.Duration(ms) * time.Millisecond
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// next returns the events after cursor, pumping once first when inline
// pumping is on.
func (h *EventsHandler) next(ctx context.Context, s *types.Session, cursor int64) ([]*types.Event, error) {
	if h.cfg.InlinePump && h.pumper != nil && s.IsActive() {
		if _, err := h.pumper.Pump(ctx, s.ID, s.UserID, 1); err != nil && ctx.Err() == nil {
			h.log.Warn("inline pump failed", "session_id", s.ID, "error", err)
		}
	}
	return h.queue.ListSince(ctx, s.ID, cursor, eventsPageSize)
}

func (h *EventsHandler) wakeups(sessionID uuid.UUID) (<-chan int64, func()) {
	if h.hub == nil {
		return nil, func() {}
	}
	w, cancel := h.hub.Subscribe(sessionID)
	return w.C, cancel
}

// GET /api/voice-coach/sessions/:id/events?cursor&timeout_ms
func (h *EventsHandler) Poll(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	s, err := h.sessions.Load(ctx, sid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	cursor := queryCursor(c)
	deadline := time.NewTimer(queryTimeout(c, pollDefaultTimeout, pollMinTimeout, pollMaxTimeout))
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()
	wake, unsubscribe := h.wakeups(sid)
	defer unsubscribe()

	for {
		evs, err := h.next(ctx, s, cursor)
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "events_query_failed", err)
			return
		}
		if len(evs) > 0 {
			response.RespondOK(c, eventsPage{
				Events:     h.toViews(ctx, evs),
				NextCursor: evs[len(evs)-1].ID,
				HasMore:    len(evs) >= eventsPageSize,
				TraceID:    ctxutil.TraceID(ctx),
			})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			status := s.Status
			if fresh, err := h.sessions.Load(ctx, sid); err == nil {
				status = fresh.Status
			}
			response.RespondOK(c, eventsPage{
				Events:        []eventView{},
				NextCursor:    cursor,
				SessionStatus: status,
				TraceID:       ctxutil.TraceID(ctx),
			})
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// GET /api/voice-coach/sessions/:id/events/stream?cursor&timeout_ms
//
// Frames: ready once, events per batch, error on a failed read, end on
// timeout. The stream never outlives the timeout; clients reconnect with the
// last next_cursor.
func (h *EventsHandler) Stream(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	s, err := h.sessions.Load(ctx, sid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	cursor := queryCursor(c)
	timeout := queryTimeout(c, streamDefaultTimeout, streamMinTimeout, streamMaxTimeout)

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	push := func(name string, payload any) {
		c.SSEvent(name, payload)
		c.Writer.Flush()
	}
	push("ready", gin.H{"next_cursor": cursor, "trace_id": ctxutil.TraceID(ctx), "ts": time.Now().UTC()})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()
	wake, unsubscribe := h.wakeups(sid)
	defer unsubscribe()

	for {
		evs, err := h.next(ctx, s, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			push("error", gin.H{"error": "events_query_failed", "message": err.Error(), "ts": time.Now().UTC()})
			return
		}
		if len(evs) > 0 {
			cursor = evs[len(evs)-1].ID
			push("events", eventsPage{
				Events:     h.toViews(ctx, evs),
				NextCursor: cursor,
				HasMore:    len(evs) >= eventsPageSize,
				TraceID:    ctxutil.TraceID(ctx),
			})
			if len(evs) >= eventsPageSize {
				continue
			}
		}
		select {
		case <-ctx.Done():
			h.log.Debug("event stream closed by client", "session_id", sid)
			return
		case <-deadline.C:
			status := s.Status
			if fresh, err := h.sessions.Load(ctx, sid); err == nil {
				status = fresh.Status
			}
			push("end", gin.H{
				"timeout":        true,
				"next_cursor":    cursor,
				"session_status": status,
				"trace_id":       ctxutil.TraceID(ctx),
				"ts":             time.Now().UTC(),
			})
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}
