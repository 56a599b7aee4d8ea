package voicecoach

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	LatestForTurn(dbc dbctx.Context, sessionID, turnID uuid.UUID) (*types.Job, error)
	NextQueuedForSession(dbc dbctx.Context, sessionID, userID uuid.UUID) (*types.Job, error)
	Claim(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ClaimNextRunnable(dbc dbctx.Context) (*types.Job, error)
	SetStage(dbc dbctx.Context, id uuid.UUID, stage types.JobStage) (bool, error)
	Finish(dbc dbctx.Context, id uuid.UUID, status types.JobStatus, result datatypes.JSON, lastError string) (bool, error)
	CancelForTurns(dbc dbctx.Context, sessionID uuid.UUID, turnIDs []uuid.UUID) (int64, error)
	CancelForSession(dbc dbctx.Context, sessionID uuid.UUID, reason string) (int64, error)
	RecoverStale(dbc dbctx.Context, staleAfter time.Duration, maxAttempts int) (requeued int64, failed int64, err error)
	CountByStatus(dbc dbctx.Context, status types.JobStatus) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.Job
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) LatestForTurn(dbc dbctx.Context, sessionID, turnID uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.Job
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND turn_id = ?", sessionID, turnID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) NextQueuedForSession(dbc dbctx.Context, sessionID, userID uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.Job
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND user_id = ? AND status = ?", sessionID, userID, types.JobQueued).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// Claim moves a job from queued to processing. false means another pumper
// won the race or the job is no longer queued.
func (r *jobRepo) Claim(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ?", id, types.JobQueued).
		Updates(map[string]interface{}{
			"status":       types.JobProcessing,
			"attempts":     gorm.Expr("attempts + 1"),
			"claimed_at":   now,
			"heartbeat_at": now,
			"last_error":   "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNextRunnable claims the oldest queued job across all sessions.
func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var claimed *types.Job
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := forUpdate(txx, true).
			Where("status = ?", types.JobQueued).
			Order("created_at ASC").
			Limit(1).
			Find(&job).Error; err != nil {
			return err
		}
		if job.ID == uuid.Nil {
			return nil
		}
		ok, err := r.Claim(dbc.WithTx(txx), job.ID)
		if err != nil || !ok {
			return err
		}
		if err := txx.Where("id = ?", job.ID).Limit(1).Find(&job).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetStage records progress while the job is still processing; false means
// the job was canceled or finished underneath the caller.
func (r *jobRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage types.JobStage) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ?", id, types.JobProcessing).
		Updates(map[string]interface{}{
			"stage":        stage,
			"heartbeat_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) Finish(dbc dbctx.Context, id uuid.UUID, status types.JobStatus, result datatypes.JSON, lastError string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	stage := types.StageDone
	if status != types.JobDone {
		stage = types.StageError
	}
	updates := map[string]interface{}{
		"status":      status,
		"stage":       stage,
		"last_error":  lastError,
		"finished_at": time.Now().UTC(),
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ?", id, types.JobProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelForTurns cancels unfinished jobs whose turns were rolled back.
func (r *jobRepo) CancelForTurns(dbc dbctx.Context, sessionID uuid.UUID, turnIDs []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(turnIDs) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("session_id = ? AND turn_id IN ? AND status IN ?", sessionID, turnIDs,
			[]types.JobStatus{types.JobQueued, types.JobProcessing}).
		Updates(map[string]interface{}{
			"status":      types.JobCanceled,
			"stage":       types.StageError,
			"last_error":  "turn rolled back",
			"finished_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CancelForSession cancels every unfinished job of the session.
func (r *jobRepo) CancelForSession(dbc dbctx.Context, sessionID uuid.UUID, reason string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("session_id = ? AND status IN ?", sessionID,
			[]types.JobStatus{types.JobQueued, types.JobProcessing}).
		Updates(map[string]interface{}{
			"status":      types.JobCanceled,
			"stage":       types.StageError,
			"last_error":  reason,
			"finished_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// RecoverStale requeues processing jobs whose heartbeat is older than
// staleAfter, and fails the ones that already used maxAttempts.
func (r *jobRepo) RecoverStale(dbc dbctx.Context, staleAfter time.Duration, maxAttempts int) (int64, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	cutoff := time.Now().UTC().Add(-staleAfter)
	failed := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("status = ? AND heartbeat_at < ? AND attempts >= ?", types.JobProcessing, cutoff, maxAttempts).
		Updates(map[string]interface{}{
			"status":      types.JobError,
			"stage":       types.StageError,
			"last_error":  "stale job exceeded max attempts",
			"finished_at": time.Now().UTC(),
		})
	if failed.Error != nil {
		return 0, 0, failed.Error
	}
	requeued := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("status = ? AND heartbeat_at < ?", types.JobProcessing, cutoff).
		Updates(map[string]interface{}{
			"status": types.JobQueued,
			"stage":  types.StageQueued,
		})
	if requeued.Error != nil {
		return 0, failed.RowsAffected, requeued.Error
	}
	return requeued.RowsAffected, failed.RowsAffected, nil
}

func (r *jobRepo) CountByStatus(dbc dbctx.Context, status types.JobStatus) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("status = ?", status).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
