package voicecoach

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// TurnRepo is the ordered turn log of a session. Every query is scoped by
// session_id.
type TurnRepo interface {
	AppendTurn(dbc dbctx.Context, sessionID uuid.UUID, turn *types.Turn) (*types.Turn, error)
	GetTurn(dbc dbctx.Context, sessionID, turnID uuid.UUID) (*types.Turn, error)
	LastTurn(dbc dbctx.Context, sessionID uuid.UUID) (*types.Turn, error)
	ListTurns(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Turn, error)
	History(dbc dbctx.Context, sessionID uuid.UUID, uptoIndex int, limit int) ([]*types.Turn, error)
	FindByAttempt(dbc dbctx.Context, sessionID uuid.UUID, clientAttemptID string) (*types.Turn, error)
	UpdateTurnFields(dbc dbctx.Context, sessionID, turnID uuid.UUID, updates map[string]interface{}) (*types.Turn, error)
	UpdateTurnFieldsIfStatus(dbc dbctx.Context, sessionID, turnID uuid.UUID, expected []types.TurnStatus, updates map[string]interface{}) (bool, error)
	RollbackFrom(dbc dbctx.Context, sessionID, fromTurnID uuid.UUID) ([]*types.Turn, []uuid.UUID, error)
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, baseLog *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: baseLog.With("repo", "TurnRepo")}
}

// AppendTurn assigns the next contiguous turn_index under a session row lock.
// The new turn must alternate roles with the current last turn, start with a
// customer, and when ReplyToTurnID is set it must name the current last turn.
func (r *turnRepo) AppendTurn(dbc dbctx.Context, sessionID uuid.UUID, turn *types.Turn) (*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if turn == nil || sessionID == uuid.Nil {
		return nil, fmt.Errorf("append turn: %w", types.ErrInvalidInput)
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var session types.Session
		if err := forUpdate(txx, false).Where("id = ?", sessionID).Limit(1).Find(&session).Error; err != nil {
			return err
		}
		if session.ID == uuid.Nil {
			return fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
		}

		var last types.Turn
		if err := txx.Where("session_id = ?", sessionID).
			Order("turn_index DESC").
			Limit(1).
			Find(&last).Error; err != nil {
			return err
		}
		var lastPtr *types.Turn
		if last.ID != uuid.Nil {
			lastPtr = &last
		}
		if err := checkSequence(lastPtr, turn); err != nil {
			return err
		}

		turn.SessionID = sessionID
		turn.TurnIndex = 0
		if lastPtr != nil {
			turn.TurnIndex = lastPtr.TurnIndex + 1
		}
		if turn.Status == "" {
			turn.Status = types.TurnPending
		}
		return txx.Create(turn).Error
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

func checkSequence(last *types.Turn, next *types.Turn) error {
	if next.Role != types.RoleCustomer && next.Role != types.RoleBeautician {
		return fmt.Errorf("role %q: %w", next.Role, types.ErrInvalidRole)
	}
	if last == nil {
		if next.Role != types.RoleCustomer {
			return fmt.Errorf("first turn must be a customer turn: %w", types.ErrInvalidSequence)
		}
		if next.ReplyToTurnID != nil {
			return fmt.Errorf("first turn cannot reply: %w", types.ErrInvalidSequence)
		}
		return nil
	}
	if last.Role == next.Role {
		return fmt.Errorf("%s turn cannot follow a %s turn: %w", next.Role, last.Role, types.ErrInvalidSequence)
	}
	if next.ReplyToTurnID != nil && *next.ReplyToTurnID != last.ID {
		return fmt.Errorf("reply target %s is not the last turn: %w", *next.ReplyToTurnID, types.ErrInvalidSequence)
	}
	if next.Role == types.RoleCustomer && (last.Status == types.TurnPending || last.Status == types.TurnFailed) {
		return fmt.Errorf("beautician turn %d unresolved: %w", last.TurnIndex, types.ErrInvalidSequence)
	}
	return nil
}

func (r *turnRepo) GetTurn(dbc dbctx.Context, sessionID, turnID uuid.UUID) (*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var t types.Turn
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND session_id = ?", turnID, sessionID).
		Limit(1).
		Find(&t).Error; err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, types.ErrNotFound)
	}
	return &t, nil
}

// LastTurn returns nil, nil for an empty session.
func (r *turnRepo) LastTurn(dbc dbctx.Context, sessionID uuid.UUID) (*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var t types.Turn
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index DESC").
		Limit(1).
		Find(&t).Error; err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		return nil, nil
	}
	return &t, nil
}

func (r *turnRepo) ListTurns(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Turn
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to limit turns with turn_index <= uptoIndex, oldest
// first.
func (r *turnRepo) History(dbc dbctx.Context, sessionID uuid.UUID, uptoIndex int, limit int) ([]*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 8
	}
	var desc []*types.Turn
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND turn_index <= ?", sessionID, uptoIndex).
		Order("turn_index DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Turn, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}

func (r *turnRepo) FindByAttempt(dbc dbctx.Context, sessionID uuid.UUID, clientAttemptID string) (*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if clientAttemptID == "" {
		return nil, nil
	}
	var t types.Turn
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND client_attempt_id = ?", sessionID, clientAttemptID).
		Limit(1).
		Find(&t).Error; err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		return nil, nil
	}
	return &t, nil
}

func (r *turnRepo) UpdateTurnFields(dbc dbctx.Context, sessionID, turnID uuid.UUID, updates map[string]interface{}) (*types.Turn, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) > 0 {
		res := transaction.WithContext(dbc.Ctx).
			Model(&types.Turn{}).
			Where("id = ? AND session_id = ?", turnID, sessionID).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("turn %s: %w", turnID, types.ErrNotFound)
		}
	}
	return r.GetTurn(dbc, sessionID, turnID)
}

// UpdateTurnFieldsIfStatus is the guarded transition used by the job pump:
// the row only changes while its status is one of expected.
func (r *turnRepo) UpdateTurnFieldsIfStatus(dbc dbctx.Context, sessionID, turnID uuid.UUID, expected []types.TurnStatus, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 || len(expected) == 0 {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Turn{}).
		Where("id = ? AND session_id = ? AND status IN ?", turnID, sessionID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RollbackFrom deletes the beautician turn fromTurnID and every later turn.
// It returns the surviving turns and the ids of the removed ones.
func (r *turnRepo) RollbackFrom(dbc dbctx.Context, sessionID, fromTurnID uuid.UUID) ([]*types.Turn, []uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var (
		surviving []*types.Turn
		removed   []uuid.UUID
	)
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var session types.Session
		if err := forUpdate(txx, false).Where("id = ?", sessionID).Limit(1).Find(&session).Error; err != nil {
			return err
		}
		if session.ID == uuid.Nil {
			return fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
		}
		var from types.Turn
		if err := txx.Where("id = ? AND session_id = ?", fromTurnID, sessionID).Limit(1).Find(&from).Error; err != nil {
			return err
		}
		if from.ID == uuid.Nil {
			return fmt.Errorf("turn %s: %w", fromTurnID, types.ErrNotFound)
		}
		if from.Role != types.RoleBeautician {
			return fmt.Errorf("rollback target must be a beautician turn: %w", types.ErrInvalidRole)
		}
		if err := txx.Model(&types.Turn{}).
			Where("session_id = ? AND turn_index >= ?", sessionID, from.TurnIndex).
			Pluck("id", &removed).Error; err != nil {
			return err
		}
		if err := txx.Where("session_id = ? AND turn_index >= ?", sessionID, from.TurnIndex).
			Delete(&types.Turn{}).Error; err != nil {
			return err
		}
		return txx.Where("session_id = ?", sessionID).Order("turn_index ASC").Find(&surviving).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return surviving, removed, nil
}
