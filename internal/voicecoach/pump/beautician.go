package pump

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/observability"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/metrics"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

const (
	msgSessionNotActive  = "会话已结束或不存在"
	msgTurnNotFound      = "未找到待处理的美容师回合"
	msgReplyTurnNotFound = "顾客回合不存在，无法继续识别"
	msgAudioMissing      = "录音文件缺失，请重录"
	msgAsrSilence        = "没有识别到有效语音，请重录并靠近麦克风。"
	msgAsrEmpty          = "识别内容为空，请重录"
	msgAnalysisDegraded  = "建议生成稍慢，已跳过本次建议。"
	msgUnexpected        = "处理失败，请稍后重试"
)

// beauticianRun carries the loaded rows of one beautician_turn job.
type beauticianRun struct {
	job      *types.Job
	payload  types.JobPayload
	session  *types.Session
	sc       scenario.Scenario
	cat      scenario.CategoryID
	turn     *types.Turn
	reply    *types.Turn
	customer *types.Turn
}

func (p *Pump) runBeauticianTurn(ctx context.Context, job *types.Job, start time.Time) (types.JobResult, error) {
	var result types.JobResult
	run, err := p.loadBeauticianRun(ctx, job)
	if err != nil {
		return result, err
	}

	switch run.turn.Status {
	case types.TurnPending:
		if err := p.transcribe(ctx, run); err != nil {
			return result, err
		}
	case types.TurnFailed:
		return result, errStopped
	default:
		// Requeued after a stale claim; text already stored.
		p.log.Debug("turn already transcribed", "turn_id", run.turn.ID, "status", run.turn.Status)
	}

	result.ReachedMaxTurns = p.reachedMaxTurns(run.turn)
	if !result.ReachedMaxTurns {
		if err := p.stage(ctx, job, types.StageCustomer); err != nil {
			return result, err
		}
		if err := p.nextCustomerTurn(ctx, run); err != nil {
			return result, err
		}
	}

	if err := p.stage(ctx, job, types.StageAnalysis); err != nil {
		return result, err
	}
	var g errgroup.Group
	g.Go(func() error {
		ok, err := p.analyze(ctx, run)
		result.AnalysisFailed = !ok
		return err
	})
	if run.customer != nil {
		g.Go(func() error {
			ok, err := p.synthesize(ctx, job, run.session, run.customer)
			result.TTSFailed = !ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := p.stage(ctx, job, types.StageDone); err != nil {
		return result, err
	}
	p.log.Debug("beautician turn processed", "turn_id", run.turn.ID, "elapsed_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (p *Pump) loadBeauticianRun(ctx context.Context, job *types.Job) (*beauticianRun, error) {
	dbc := dbctx.Of(ctx)
	session, err := p.repos.Sessions.GetForUser(dbc, job.UserID, job.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.IsActive() {
		return nil, fail("session_not_active", msgSessionNotActive)
	}
	turn, err := p.repos.Turns.GetTurn(dbc, job.SessionID, job.TurnID)
	if err != nil {
		return nil, fmt.Errorf("load turn: %w", err)
	}
	if turn == nil || turn.Role != types.RoleBeautician {
		return nil, fail("turn_not_found", msgTurnNotFound)
	}
	payload := job.PayloadValue()
	replyID := payload.ReplyToTurnID
	if replyID == nil {
		replyID = turn.ReplyToTurnID
	}
	var reply *types.Turn
	if replyID != nil {
		reply, err = p.repos.Turns.GetTurn(dbc, job.SessionID, *replyID)
		if err != nil {
			return nil, fmt.Errorf("load reply turn: %w", err)
		}
	}
	if reply == nil || reply.Role != types.RoleCustomer {
		return nil, fail("reply_turn_not_found", msgReplyTurnNotFound)
	}
	sc, cat := scenario.Resolve(session.ScenarioID, session.CategoryID)
	return &beauticianRun{
		job:     job,
		payload: payload,
		session: session,
		sc:      sc,
		cat:     cat,
		turn:    turn,
		reply:   reply,
	}, nil
}

// transcribe runs the asr stage and moves the turn pending -> text_ready.
func (p *Pump) transcribe(ctx context.Context, run *beauticianRun) error {
	if err := p.stage(ctx, run.job, types.StageASR); err != nil {
		return err
	}
	started := time.Now()
	turn := run.turn
	text := strings.TrimSpace(turn.Text)
	var confidence, seconds *float64

	if turn.AudioPath == nil || strings.TrimSpace(*turn.AudioPath) == "" {
		if text == "" {
			return fail("audio_missing", msgAudioMissing)
		}
	} else {
		data, err := p.store.Download(ctx, *turn.AudioPath)
		if errors.Is(err, audio.ErrObjectNotFound) {
			observeStage(types.StageASR, "error", started)
			return fail("audio_missing", msgAudioMissing)
		}
		if err != nil {
			return fmt.Errorf("download audio: %w", err)
		}
		format := run.payload.AudioFormat
		if format == "" {
			format = types.AudioMP3
		}
		tr, err := p.asr.Transcribe(ctx, data, format, run.sc.SeedTopics...)
		if errors.Is(err, speech.ErrSilence) {
			observeStage(types.StageASR, "silence", started)
			return fail("asr_silence", msgAsrSilence)
		}
		if err != nil {
			observeStage(types.StageASR, "error", started)
			return fmt.Errorf("transcribe: %w", err)
		}
		text = strings.TrimSpace(tr.Text)
		confidence = tr.Confidence
		seconds = firstNonNil(tr.DurationSeconds, run.payload.ClientAudioSeconds, turn.AudioSeconds)
		if text == "" || metrics.IsSilent(text) {
			observeStage(types.StageASR, "empty", started)
			return fail("asr_empty", msgAsrEmpty)
		}
	}
	if seconds == nil {
		seconds = firstNonNil(run.payload.ClientAudioSeconds, turn.AudioSeconds)
	}

	features := types.TurnFeatures{
		WPM:         metrics.WordsPerMinute(text, seconds),
		FillerRatio: metrics.FillerRatio(text),
	}
	updates := map[string]interface{}{
		"status":   types.TurnTextReady,
		"text":     text,
		"features": types.JSON(features),
	}
	if seconds != nil {
		updates["audio_seconds"] = *seconds
	}
	if confidence != nil {
		updates["asr_confidence"] = *confidence
	}
	ok, err := p.repos.Turns.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), turn.SessionID, turn.ID,
		[]types.TurnStatus{types.TurnPending}, updates)
	if err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	if !ok {
		return errStopped
	}
	turn.Status = types.TurnTextReady
	turn.Text = text
	turn.AudioSeconds = seconds
	turn.AsrConfidence = confidence
	turn.Features = types.JSON(features)
	observeStage(types.StageASR, "ok", started)

	turnID, jobID := turn.ID, run.job.ID
	p.events.Emit(ctx, events.EmitArgs{
		SessionID: turn.SessionID,
		UserID:    run.job.UserID,
		TurnID:    &turnID,
		JobID:     &jobID,
		Data: types.AsrReady{
			TurnID:          turn.ID,
			Text:            text,
			Confidence:      confidence,
			AudioSeconds:    seconds,
			AudioPath:       turn.AudioPath,
			ReachedMaxTurns: p.reachedMaxTurns(turn),
			StageElapsedMs:  time.Since(started).Milliseconds(),
		},
	})
	return nil
}

// reachedMaxTurns reports whether turn completes the last allowed round.
// Beautician turns sit at odd indexes, so index 1 ends round one.
func (p *Pump) reachedMaxTurns(turn *types.Turn) bool {
	return (turn.TurnIndex+1)/2 >= p.cfg.MaxTurns
}

// analyze attaches coaching feedback to the beautician turn. It reports
// false when no analysis could be produced; that is degraded, not fatal.
func (p *Pump) analyze(ctx context.Context, run *beauticianRun) (bool, error) {
	started := time.Now()
	turn := run.turn
	if turn.Status == types.TurnAnalysisReady {
		return true, nil
	}

	var analysis types.TurnAnalysis
	if tmpl, ok := p.pack.AnalysisTemplate(run.cat, run.reply.IntentValue()); ok {
		analysis = coach.MergeRisks(coach.FromTemplate(tmpl), turn.Text)
	} else {
		history, err := p.history(ctx, turn.SessionID, run.reply.TurnIndex-1)
		if err != nil {
			return false, err
		}
		customer := types.HistoryItem{Role: types.RoleCustomer, Text: run.reply.Text, Emotion: run.reply.EmotionValue()}
		analysis, err = p.coach.AnalyzeTurn(ctx, run.sc, history, customer, turn.Text)
		if err != nil {
			p.log.Warn("turn analysis degraded", "turn_id", turn.ID, "error", err)
			observeStage(types.StageAnalysis, "degraded", started)
			turnID, jobID := turn.ID, run.job.ID
			observability.Current().IncTurnError("analysis_failed")
			p.events.TurnError(ctx, turn.SessionID, run.job.UserID, &turnID, &jobID, "analysis_failed", msgAnalysisDegraded, true)
			return false, nil
		}
	}

	ok, err := p.repos.Turns.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), turn.SessionID, turn.ID,
		[]types.TurnStatus{types.TurnTextReady},
		map[string]interface{}{
			"status":   types.TurnAnalysisReady,
			"analysis": types.JSON(analysis),
		})
	if err != nil {
		return false, fmt.Errorf("store analysis: %w", err)
	}
	if !ok {
		// A previous attempt may have stored it already.
		cur, err := p.repos.Turns.GetTurn(dbctx.Of(ctx), turn.SessionID, turn.ID)
		if err != nil {
			return false, fmt.Errorf("reload turn: %w", err)
		}
		if cur != nil && cur.Status == types.TurnAnalysisReady {
			return true, nil
		}
		return false, errStopped
	}
	observeStage(types.StageAnalysis, "ok", started)

	turnID, jobID := turn.ID, run.job.ID
	p.events.Emit(ctx, events.EmitArgs{
		SessionID: turn.SessionID,
		UserID:    run.job.UserID,
		TurnID:    &turnID,
		JobID:     &jobID,
		Data: types.AnalysisReady{
			TurnID:         turn.ID,
			Analysis:       analysis,
			StageElapsedMs: time.Since(started).Milliseconds(),
		},
	})
	return true, nil
}

func (p *Pump) history(ctx context.Context, sessionID uuid.UUID, uptoIndex int) ([]types.HistoryItem, error) {
	if uptoIndex < 0 {
		return []types.HistoryItem{}, nil
	}
	turns, err := p.repos.Turns.History(dbctx.Of(ctx), sessionID, uptoIndex, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return types.ToHistory(turns), nil
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil && *v > 0 {
			return v
		}
	}
	return nil
}
