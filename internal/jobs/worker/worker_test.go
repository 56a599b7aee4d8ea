package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	"github.com/yungbote/voicecoach-backend/internal/data/repos/testutil"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
)

type recordingRunner struct {
	ran   []uuid.UUID
	panic bool
}

func (r *recordingRunner) RunClaimed(_ context.Context, job *types.Job) {
	r.ran = append(r.ran, job.ID)
	if r.panic {
		panic("boom")
	}
}

func seed(t *testing.T) (repos.Set, *types.Job) {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	turns := testutil.SeedTurns(t, ctx, db, s.ID, 1)
	job, err := set.Jobs.Create(dbctx.Of(ctx), &types.Job{
		SessionID: s.ID,
		UserID:    s.UserID,
		TurnID:    turns[0].ID,
		Kind:      types.JobCustomerTTS,
	})
	if err != nil {
		t.Fatalf("Create job: %v", err)
	}
	return set, job
}

func TestRunOnceClaimsOldestJob(t *testing.T) {
	set, job := seed(t)
	runner := &recordingRunner{}
	w := NewWorker(testutil.Logger(t), set.Jobs, runner, Config{})

	ran, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ran || len(runner.ran) != 1 || runner.ran[0] != job.ID {
		t.Fatalf("ran=%v jobs=%v", ran, runner.ran)
	}
	ran, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce empty: %v", err)
	}
	if ran {
		t.Fatalf("expected an empty queue")
	}
}

func TestRunOnceFinishesPanickedJob(t *testing.T) {
	set, job := seed(t)
	w := NewWorker(testutil.Logger(t), set.Jobs, &recordingRunner{panic: true}, Config{})

	ran, err := w.RunOnce(context.Background())
	if err != nil || !ran {
		t.Fatalf("RunOnce: ran=%v err=%v", ran, err)
	}
	got, err := set.Jobs.GetByID(dbctx.Of(context.Background()), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobError || got.LastError == "" {
		t.Fatalf("job = %s %q", got.Status, got.LastError)
	}
}

func TestSweepRequeuesStaleJobs(t *testing.T) {
	set, _ := seed(t)
	ctx := context.Background()
	claimed, err := set.Jobs.ClaimNextRunnable(dbctx.Of(ctx))
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextRunnable: job=%v err=%v", claimed, err)
	}

	w := NewWorker(testutil.Logger(t), set.Jobs, &recordingRunner{}, Config{StaleAfter: time.Nanosecond})
	time.Sleep(5 * time.Millisecond)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, err := set.Jobs.GetByID(dbctx.Of(ctx), claimed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	set, _ := seed(t)
	w := NewWorker(testutil.Logger(t), set.Jobs, &recordingRunner{}, Config{Concurrency: 1})
	for i := 0; i < 10; i++ {
		w.Wake()
	}
	if len(w.wake) != 1 {
		t.Fatalf("wake buffer = %d, want 1", len(w.wake))
	}
}
