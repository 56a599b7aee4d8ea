package voicecoach

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, session *types.Session) (*types.Session, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Session, error)
	GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.Session, error)
	LatestEndedForUser(dbc dbctx.Context, userID uuid.UUID) (*types.Session, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expected types.SessionStatus, updates map[string]interface{}) (bool, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(dbc dbctx.Context, session *types.Session) (*types.Session, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if session.Status == "" {
		session.Status = types.SessionActive
	}
	if err := transaction.WithContext(dbc.Ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// GetByID returns nil, nil when the session does not exist.
func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Session, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.Session
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&s).Error; err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

// GetForUser scopes the lookup to the owner. A foreign session is reported
// as ErrNotFound so callers cannot enumerate other users' ids.
func (r *sessionRepo) GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.Session, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.Session
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&s).Error; err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return &s, nil
}

func (r *sessionRepo) LatestEndedForUser(dbc dbctx.Context, userID uuid.UUID) (*types.Session, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.Session
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND status = ? AND dimension_scores IS NOT NULL", userID, types.SessionEnded).
		Order("ended_at DESC").
		Limit(1).
		Find(&s).Error; err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *sessionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	res := transaction.WithContext(dbc.Ctx).Model(&types.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// UpdateFieldsIfStatus applies updates only while the session is still in
// the expected status and reports whether a row changed.
func (r *sessionRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expected types.SessionStatus, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Session{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
