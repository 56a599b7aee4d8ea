package voicecoach

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos/testutil"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
)

func seedJob(t *testing.T, repo JobRepo, s *types.Session) *types.Job {
	t.Helper()
	job, err := repo.Create(dbctx.Of(context.Background()), &types.Job{
		SessionID: s.ID,
		UserID:    s.UserID,
		TurnID:    uuid.New(),
		Kind:      types.JobBeauticianTurn,
		Payload:   types.JSON(types.JobPayload{AudioFormat: types.AudioMP3}),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	job := seedJob(t, repo, s)

	if job.Status != types.JobQueued || job.Stage != types.StageQueued {
		t.Fatalf("defaults: status=%q stage=%q", job.Status, job.Stage)
	}
	ok, err := repo.Claim(dbctx.Of(ctx), job.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Claim(dbctx.Of(ctx), job.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("second claim: want false")
	}
	got, err := repo.GetByID(dbctx.Of(ctx), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobProcessing || got.Attempts != 1 {
		t.Fatalf("claimed: status=%q attempts=%d", got.Status, got.Attempts)
	}
}

func TestFinishOnlyFromProcessing(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	job := seedJob(t, repo, s)

	ok, err := repo.Finish(dbctx.Of(ctx), job.ID, types.JobDone, nil, "")
	if err != nil || ok {
		t.Fatalf("finish queued: ok=%v err=%v", ok, err)
	}
	if _, err := repo.Claim(dbctx.Of(ctx), job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok, err := repo.SetStage(dbctx.Of(ctx), job.ID, types.StageASR); err != nil || !ok {
		t.Fatalf("SetStage: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Finish(dbctx.Of(ctx), job.ID, types.JobDone, types.JSON(types.JobResult{FinishedMs: 5}), "")
	if err != nil || !ok {
		t.Fatalf("finish processing: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbctx.Of(ctx), job.ID)
	if got.Stage != types.StageDone || got.FinishedAt == nil {
		t.Fatalf("finished: stage=%q finished_at=%v", got.Stage, got.FinishedAt)
	}
}

func TestCancelForTurnsStopsStageUpdates(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	job := seedJob(t, repo, s)
	if _, err := repo.Claim(dbctx.Of(ctx), job.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	n, err := repo.CancelForTurns(dbctx.Of(ctx), s.ID, []uuid.UUID{job.TurnID})
	if err != nil || n != 1 {
		t.Fatalf("CancelForTurns: n=%d err=%v", n, err)
	}
	ok, err := repo.SetStage(dbctx.Of(ctx), job.ID, types.StageAnalysis)
	if err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if ok {
		t.Fatalf("SetStage after cancel: want false")
	}
}

func TestCancelForSessionLeavesFinishedJobs(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	other := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	queued := seedJob(t, repo, s)
	running := seedJob(t, repo, s)
	finished := seedJob(t, repo, s)
	untouched := seedJob(t, repo, other)
	for _, id := range []uuid.UUID{running.ID, finished.ID} {
		if _, err := repo.Claim(dbctx.Of(ctx), id); err != nil {
			t.Fatalf("Claim: %v", err)
		}
	}
	if _, err := repo.Finish(dbctx.Of(ctx), finished.ID, types.JobDone, nil, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	n, err := repo.CancelForSession(dbctx.Of(ctx), s.ID, "session ended")
	if err != nil || n != 2 {
		t.Fatalf("CancelForSession: n=%d err=%v", n, err)
	}
	want := map[uuid.UUID]types.JobStatus{
		queued.ID:    types.JobCanceled,
		running.ID:   types.JobCanceled,
		finished.ID:  types.JobDone,
		untouched.ID: types.JobQueued,
	}
	for id, status := range want {
		got, err := repo.GetByID(dbctx.Of(ctx), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != status {
			t.Fatalf("job %s: want=%q got=%q", id, status, got.Status)
		}
	}
}

func TestClaimNextRunnableAndRecoverStale(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	seedJob(t, repo, s)
	seedJob(t, repo, s)

	claimed, err := repo.ClaimNextRunnable(dbctx.Of(ctx))
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.Status != types.JobProcessing {
		t.Fatalf("claimed: %+v", claimed)
	}

	old := time.Now().UTC().Add(-10 * time.Minute)
	if err := db.Model(&types.Job{}).Where("id = ?", claimed.ID).Update("heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}
	requeued, failed, err := repo.RecoverStale(dbctx.Of(ctx), time.Minute, 3)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if requeued != 1 || failed != 0 {
		t.Fatalf("RecoverStale: requeued=%d failed=%d", requeued, failed)
	}
	got, _ := repo.GetByID(dbctx.Of(ctx), claimed.ID)
	if got.Status != types.JobQueued {
		t.Fatalf("status: want=queued got=%q", got.Status)
	}
	if n, err := repo.CountByStatus(dbctx.Of(ctx), types.JobQueued); err != nil || n != 2 {
		t.Fatalf("CountByStatus: n=%d err=%v", n, err)
	}
}
