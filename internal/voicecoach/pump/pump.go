// Package pump advances queued voice-coach jobs through their pipelines.
// Every transition is a status-guarded row update, so any number of pollers
// and workers can pump the same session concurrently.
package pump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/observability"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

const (
	maxPumpJobs  = 5
	historyLimit = 8
)

// errStopped means the job lost a guarded update because its turn was
// rolled back or the job was canceled. The job is left as it is.
var errStopped = errors.New("job stopped")

type Config struct {
	MaxTurns       int
	ModelRewrite   bool
	RewritePercent int
}

type Deps struct {
	Repos  repos.Set
	Events *events.Queue
	Store  audio.Store
	ASR    speech.Transcriber
	TTS    speech.Synthesizer
	Coach  *coach.Generator
	Pack   *scriptpack.Pack
}

type Pump struct {
	log          *logger.Logger
	repos        repos.Set
	events       *events.Queue
	store        audio.Store
	asr          speech.Transcriber
	tts          speech.Synthesizer
	coach        *coach.Generator
	pack         *scriptpack.Pack
	cfg          Config
	claimBackoff time.Duration
}

func New(baseLog *logger.Logger, deps Deps, cfg Config) *Pump {
	if cfg.MaxTurns < 1 {
		cfg.MaxTurns = 1
	}
	asr := deps.ASR
	if asr == nil {
		asr = speech.DisabledTranscriber{}
	}
	tts := deps.TTS
	if tts == nil {
		tts = speech.DisabledSynthesizer{}
	}
	pack := deps.Pack
	if pack == nil {
		pack = scriptpack.Default(baseLog)
	}
	return &Pump{
		log:          baseLog.With("service", "JobPump"),
		repos:        deps.Repos,
		events:       deps.Events,
		store:        deps.Store,
		asr:          asr,
		tts:          tts,
		coach:        deps.Coach,
		pack:         pack,
		cfg:          cfg,
		claimBackoff: 80 * time.Millisecond,
	}
}

// Pump runs up to maxJobs (clamped to 1..5) queued jobs of one session,
// oldest first, and returns how many it processed.
func (p *Pump) Pump(ctx context.Context, sessionID, userID uuid.UUID, maxJobs int) (int, error) {
	ctx = ctxutil.Default(ctx)
	if maxJobs < 1 {
		maxJobs = 1
	}
	if maxJobs > maxPumpJobs {
		maxJobs = maxPumpJobs
	}
	processed := 0
	for i := 0; i < maxJobs; i++ {
		job, err := p.repos.Jobs.NextQueuedForSession(dbctx.Of(ctx), sessionID, userID)
		if err != nil {
			return processed, fmt.Errorf("next queued job: %w", err)
		}
		if job == nil {
			break
		}
		ok, err := p.RunJob(ctx, job)
		if err != nil {
			return processed, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return processed, ctx.Err()
			case <-time.After(p.claimBackoff):
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// RunJob claims job and runs its pipeline to completion. It reports false
// when another pumper owns the job. Pipeline failures are recorded on the job
// and as turn.error events, not returned.
func (p *Pump) RunJob(ctx context.Context, job *types.Job) (bool, error) {
	ctx = ctxutil.Default(ctx)
	claimed, err := p.repos.Jobs.Claim(dbctx.Of(ctx), job.ID)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		return false, nil
	}
	p.RunClaimed(ctx, job)
	return true, nil
}

// RunClaimed runs the pipeline of a job already in processing.
func (p *Pump) RunClaimed(ctx context.Context, job *types.Job) {
	ctx = ctxutil.Default(ctx)
	ctx, span := observability.StartSpan(ctx, "voicecoach.job",
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.id", job.ID.String()),
	)
	start := time.Now()
	log := p.log.With("job_id", job.ID, "session_id", job.SessionID, "turn_id", job.TurnID, "kind", job.Kind)

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			log.Error("job pipeline panic", "panic", r)
			runErr = fmt.Errorf("panic: %v", r)
			p.failJob(ctx, job, "voice_coach_error", msgUnexpected, runErr)
		}
		observability.EndSpan(span, runErr)
	}()

	var result types.JobResult
	switch job.Kind {
	case types.JobBeauticianTurn:
		result, runErr = p.runBeauticianTurn(ctx, job, start)
	case types.JobCustomerTTS:
		result, runErr = p.runCustomerTTS(ctx, job, start)
	default:
		runErr = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	var tf *turnFailure
	switch {
	case runErr == nil:
		result.FinishedMs = time.Since(start).Milliseconds()
		if _, err := p.repos.Jobs.Finish(dbctx.Of(ctx), job.ID, types.JobDone, types.JSON(result), ""); err != nil {
			log.Warn("finish job failed", "error", err)
		}
		observability.Current().IncJobFinished(string(job.Kind), string(types.JobDone))
		log.Debug("job done", "finished_ms", result.FinishedMs, "reached_max_turns", result.ReachedMaxTurns)
	case errors.Is(runErr, errStopped):
		log.Info("job stopped; turn no longer current")
		if _, err := p.repos.Jobs.Finish(dbctx.Of(ctx), job.ID, types.JobCanceled, nil, errStopped.Error()); err != nil {
			log.Warn("cancel job failed", "error", err)
		}
		runErr = nil
	case errors.As(runErr, &tf):
		p.failJob(ctx, job, tf.code, tf.message, nil)
		runErr = nil
	default:
		log.Warn("job pipeline failed", "error", runErr)
		p.failJob(ctx, job, "voice_coach_error", msgUnexpected, runErr)
	}
}

// turnFailure is an expected pipeline outcome that ends the job in error
// with a user-facing message.
type turnFailure struct {
	code    string
	message string
}

func (e *turnFailure) Error() string { return e.code + ": " + e.message }

func fail(code, message string) error { return &turnFailure{code: code, message: message} }

func (p *Pump) failJob(ctx context.Context, job *types.Job, code, message string, cause error) {
	lastErr := message
	if cause != nil {
		lastErr = cause.Error()
	}
	if _, err := p.repos.Jobs.Finish(dbctx.Of(ctx), job.ID, types.JobError, nil, lastErr); err != nil {
		p.log.Warn("mark job error failed", "job_id", job.ID, "error", err)
	}
	// Turns of an ended session are frozen.
	if job.Kind == types.JobBeauticianTurn && code != "session_not_active" {
		if _, err := p.repos.Turns.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), job.SessionID, job.TurnID,
			[]types.TurnStatus{types.TurnPending},
			map[string]interface{}{"status": types.TurnFailed},
		); err != nil {
			p.log.Warn("mark turn failed failed", "turn_id", job.TurnID, "error", err)
		}
	}
	observability.Current().IncJobFinished(string(job.Kind), string(types.JobError))
	observability.Current().IncTurnError(code)
	turnID, jobID := job.TurnID, job.ID
	p.events.TurnError(ctx, job.SessionID, job.UserID, &turnID, &jobID, code, message, false)
}

// stage records the job stage; a lost update means the job was canceled.
func (p *Pump) stage(ctx context.Context, job *types.Job, stage types.JobStage) error {
	ok, err := p.repos.Jobs.SetStage(dbctx.Of(ctx), job.ID, stage)
	if err != nil {
		return fmt.Errorf("set stage %s: %w", stage, err)
	}
	if !ok {
		return errStopped
	}
	return nil
}

func observeStage(stage types.JobStage, status string, started time.Time) {
	observability.Current().ObservePumpStage(string(stage), status, time.Since(started))
}
