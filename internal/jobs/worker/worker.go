package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/observability"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// Runner finishes one already-claimed job.
type Runner interface {
	RunClaimed(ctx context.Context, job *types.Job)
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	StaleAfter   time.Duration
	MaxAttempts  int
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval: envutil.Seconds("WORKER_POLL_SEC", time.Second),
		StaleAfter:   envutil.Seconds("VOICE_COACH_STALE_JOB_SEC", 2*time.Minute),
		MaxAttempts:  envutil.Int("VOICE_COACH_JOB_MAX_ATTEMPTS", 3),
	}
}

type Worker struct {
	log    *logger.Logger
	jobs   repos.JobRepo
	runner Runner
	cfg    Config
	wake   chan struct{}
}

func NewWorker(baseLog *logger.Logger, jobs repos.JobRepo, runner Runner, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		log:    baseLog.With("component", "VoiceCoachJobWorker"),
		jobs:   jobs,
		runner: runner,
		cfg:    cfg,
		wake:   make(chan struct{}, cfg.Concurrency),
	}
}

// Wake lets an idle loop poll immediately. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
	go w.janitor(ctx)
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
		case <-w.wake:
		}
		// Drain the queue before going back to sleep.
		for ctx.Err() == nil {
			ran, err := w.RunOnce(ctx)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				break
			}
			if !ran {
				break
			}
		}
	}
}

// RunOnce claims and runs the oldest queued job. It reports whether a job
// was found.
func (w *Worker) RunOnce(ctx context.Context) (ran bool, err error) {
	job, err := w.jobs.ClaimNextRunnable(dbctx.Of(ctx))
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"job_id", job.ID,
				"kind", job.Kind,
				"panic", r,
			)
			if _, ferr := w.jobs.Finish(dbctx.Of(ctx), job.ID, types.JobError, nil, errFromRecover(r).Error()); ferr != nil {
				w.log.Warn("finish panicked job failed", "job_id", job.ID, "error", ferr)
			}
			ran, err = true, nil
		}
	}()

	w.runner.RunClaimed(ctx, job)
	return true, nil
}

// janitor requeues jobs whose worker went away and publishes queue depth.
func (w *Worker) janitor(ctx context.Context) {
	interval := w.cfg.StaleAfter / 2
	if interval < w.cfg.PollInterval {
		interval = w.cfg.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.log.Warn("stale job sweep failed", "error", err)
			}
		}
	}
}

func (w *Worker) Sweep(ctx context.Context) error {
	dbc := dbctx.Of(ctx)
	requeued, failed, err := w.jobs.RecoverStale(dbc, w.cfg.StaleAfter, w.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("recover stale: %w", err)
	}
	if requeued > 0 || failed > 0 {
		w.log.Warn("recovered stale jobs", "requeued", requeued, "failed", failed)
		observability.Current().AddStaleJobs(requeued, failed)
		if requeued > 0 {
			w.Wake()
		}
	}
	m := observability.Current()
	for _, status := range []types.JobStatus{types.JobQueued, types.JobProcessing} {
		n, err := w.jobs.CountByStatus(dbc, status)
		if err != nil {
			return fmt.Errorf("count %s jobs: %w", status, err)
		}
		m.SetQueueDepth(string(status), n)
	}
	return nil
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
