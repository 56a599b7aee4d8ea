// Package events is the per-session ordered event log that clients poll or
// stream.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/realtime/bus"
)

const DefaultPageSize = 50

type EmitArgs struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	TurnID    *uuid.UUID
	JobID     *uuid.UUID
	Data      types.EventData
}

type Queue struct {
	log  *logger.Logger
	repo repos.EventRepo
	bus  bus.Bus
}

// NewQueue builds a queue over repo. b may be nil, in which case no wakeups
// are published.
func NewQueue(repo repos.EventRepo, b bus.Bus, baseLog *logger.Logger) *Queue {
	return &Queue{
		log:  baseLog.With("service", "EventQueue"),
		repo: repo,
		bus:  b,
	}
}

// Emit appends an event and returns it. Failures are logged and yield nil;
// the caller's pipeline keeps going either way.
func (q *Queue) Emit(ctx context.Context, args EmitArgs) *types.Event {
	ctx = ctxutil.Default(ctx)
	if args.Data == nil {
		q.log.Error("emit without payload", "session_id", args.SessionID)
		return nil
	}
	ev := &types.Event{
		SessionID: args.SessionID,
		UserID:    args.UserID,
		Type:      args.Data.EventType(),
		TurnID:    args.TurnID,
		JobID:     args.JobID,
		Data:      types.JSON(args.Data),
	}
	saved, err := q.repo.Append(dbctx.Of(ctx), ev)
	if err != nil {
		q.log.Warn("emit event failed",
			"session_id", args.SessionID,
			"type", ev.Type,
			"turn_id", args.TurnID,
			"job_id", args.JobID,
			"error", err,
		)
		return nil
	}
	if q.bus != nil {
		n := bus.Notification{SessionID: saved.SessionID, EventID: saved.ID}
		if err := q.bus.Publish(ctx, n); err != nil {
			q.log.Debug("event wakeup publish failed", "session_id", saved.SessionID, "error", err)
		}
	}
	return saved
}

// ListSince returns events with id > cursor in ascending order.
func (q *Queue) ListSince(ctx context.Context, sessionID uuid.UUID, cursor int64, limit int) ([]*types.Event, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	out, err := q.repo.ListSince(dbctx.Of(ctx), sessionID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (q *Queue) LastID(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	id, err := q.repo.LastID(dbctx.Of(ctx), sessionID)
	if err != nil {
		return 0, fmt.Errorf("last event id: %w", err)
	}
	return id, nil
}

// TurnError is shorthand for emitting a turn.error event.
func (q *Queue) TurnError(ctx context.Context, sessionID, userID uuid.UUID, turnID, jobID *uuid.UUID, code, message string, degraded bool) *types.Event {
	return q.Emit(ctx, EmitArgs{
		SessionID: sessionID,
		UserID:    userID,
		TurnID:    turnID,
		JobID:     jobID,
		Data:      types.TurnError{Code: code, Message: message, Degraded: degraded},
	})
}
