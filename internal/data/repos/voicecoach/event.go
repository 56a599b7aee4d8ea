package voicecoach

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

const DefaultEventPageSize = 50

type EventRepo interface {
	Append(dbc dbctx.Context, ev *types.Event) (*types.Event, error)
	ListSince(dbc dbctx.Context, sessionID uuid.UUID, cursor int64, limit int) ([]*types.Event, error)
	LastID(dbc dbctx.Context, sessionID uuid.UUID) (int64, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{db: db, log: baseLog.With("repo", "EventRepo")}
}

// Append bumps the session's last_event_id and inserts the event under that
// id in one transaction. The UPDATE takes the session row lock, so concurrent
// emitters for the same session serialize and ids never repeat.
func (r *eventRepo) Append(dbc dbctx.Context, ev *types.Event) (*types.Event, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ev == nil || ev.SessionID == uuid.Nil {
		return nil, fmt.Errorf("append event: %w", types.ErrInvalidInput)
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.Session{}).
			Where("id = ?", ev.SessionID).
			UpdateColumn("last_event_id", gorm.Expr("last_event_id + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", ev.SessionID, types.ErrNotFound)
		}
		var seq int64
		if err := txx.Model(&types.Session{}).
			Where("id = ?", ev.SessionID).
			Select("last_event_id").
			Scan(&seq).Error; err != nil {
			return err
		}
		ev.ID = seq
		return txx.Create(ev).Error
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *eventRepo) ListSince(dbc dbctx.Context, sessionID uuid.UUID, cursor int64, limit int) ([]*types.Event, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > DefaultEventPageSize {
		limit = DefaultEventPageSize
	}
	if cursor < 0 {
		cursor = 0
	}
	var out []*types.Event
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND id > ?", sessionID, cursor).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) LastID(dbc dbctx.Context, sessionID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var last int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Session{}).
		Where("id = ?", sessionID).
		Select("last_event_id").
		Scan(&last).Error; err != nil {
		return 0, err
	}
	return last, nil
}
