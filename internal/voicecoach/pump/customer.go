package pump

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

// customerLine is the chosen next line before it becomes a turn row.
type customerLine struct {
	text    string
	emotion types.Emotion
	tag     string
	intent  string
	angle   string
	lineID  string
	source  types.ReplySource
	policy  *types.PolicyState
}

// nextCustomerTurn appends the customer reply to run.turn at index+1.
func (p *Pump) nextCustomerTurn(ctx context.Context, run *beauticianRun) error {
	started := time.Now()
	dbc := dbctx.Of(ctx)

	last, err := p.repos.Turns.LastTurn(dbc, run.session.ID)
	if err != nil {
		return fmt.Errorf("load last turn: %w", err)
	}
	if last != nil && last.TurnIndex > run.turn.TurnIndex {
		if last.Role == types.RoleCustomer && last.ReplyToTurnID != nil && *last.ReplyToTurnID == run.turn.ID {
			run.customer = last
			return nil
		}
		return errStopped
	}

	history, err := p.history(ctx, run.session.ID, run.turn.TurnIndex)
	if err != nil {
		return err
	}
	line := p.chooseLine(ctx, run, history)

	replyTo := run.turn.ID
	emotion := line.emotion
	source := line.source
	customer := &types.Turn{
		Role:          types.RoleCustomer,
		Status:        types.TurnTextReady,
		Text:          line.text,
		Emotion:       &emotion,
		ReplySource:   &source,
		ReplyToTurnID: &replyTo,
		Features:      types.JSON(types.TurnFeatures{Tag: line.tag}),
	}
	if line.intent != "" {
		customer.IntentID = strPtr(line.intent)
	}
	if line.angle != "" {
		customer.AngleID = strPtr(line.angle)
	}
	if line.lineID != "" {
		customer.LineID = strPtr(line.lineID)
	}
	customer, err = p.repos.Turns.AppendTurn(dbc, run.session.ID, customer)
	if errors.Is(err, types.ErrInvalidSequence) {
		return errStopped
	}
	if err != nil {
		return fmt.Errorf("append customer turn: %w", err)
	}
	run.customer = customer

	if line.policy != nil {
		if err := p.repos.Sessions.UpdateFields(dbc, run.session.ID, map[string]interface{}{
			"policy_state": types.JSON(line.policy),
		}); err != nil {
			p.log.Warn("store policy state failed", "session_id", run.session.ID, "error", err)
		}
	}
	observeStage(types.StageCustomer, string(line.source), started)

	turnID, jobID := customer.ID, run.job.ID
	p.events.Emit(ctx, events.EmitArgs{
		SessionID: run.session.ID,
		UserID:    run.job.UserID,
		TurnID:    &turnID,
		JobID:     &jobID,
		Data: types.CustomerTextReady{
			TurnID:         customer.ID,
			TurnIndex:      customer.TurnIndex,
			Text:           customer.Text,
			Emotion:        emotion,
			Tag:            line.tag,
			ReplySource:    source,
			StageElapsedMs: time.Since(started).Milliseconds(),
		},
	})
	return nil
}

// chooseLine prefers the scripted dialogue policy, optionally rephrased by
// the model, then a fully generated line, then a static follow-up.
func (p *Pump) chooseLine(ctx context.Context, run *beauticianRun, history []types.HistoryItem) customerLine {
	sel, err := p.pack.SelectNextCustomerLine(run.cat, run.session.Policy(), run.turn.Text, history)
	if err == nil {
		policy := sel.Policy
		line := customerLine{
			text:    sel.Line.Text,
			emotion: types.NormalizeEmotion(string(sel.Line.Emotion), types.EmotionNeutral),
			tag:     sel.Line.Tag,
			intent:  sel.IntentID,
			angle:   sel.AngleID,
			lineID:  sel.Line.LineID,
			source:  types.ReplyFixed,
			policy:  &policy,
		}
		if sel.LoopGuardTriggered {
			p.log.Debug("loop guard moved dialogue policy", "session_id", run.session.ID, "intent_id", sel.IntentID)
		}
		if p.cfg.ModelRewrite && scriptpack.ShouldRewrite(run.session.ID.String()+"|"+sel.Line.LineID, p.cfg.RewritePercent) {
			rewritten, rerr := p.coach.RewriteLine(ctx, run.sc, history, sel.Line)
			if rerr != nil {
				p.log.Warn("line rewrite failed; using scripted text", "line_id", sel.Line.LineID, "error", rerr)
			} else {
				line.text = rewritten.Text
				line.source = types.ReplyMixed
			}
		}
		return line
	}
	if !errors.Is(err, scriptpack.ErrNoCustomerLines) {
		p.log.Warn("script selection failed", "session_id", run.session.ID, "error", err)
	}

	gen, err := p.coach.CustomerTurn(ctx, run.sc, history, coach.DefaultCustomerTarget)
	if err == nil {
		return customerLine{
			text:    gen.Text,
			emotion: gen.Emotion,
			tag:     gen.Tag,
			source:  types.ReplyModel,
		}
	}
	p.log.Warn("customer generation failed; using static follow-up", "session_id", run.session.ID, "error", err)
	fb := scenario.FallbackFollowUp(run.cat)
	return customerLine{
		text:    fb.Text,
		emotion: types.NormalizeEmotion(fb.Emotion, types.EmotionNeutral),
		tag:     fb.Tag,
		source:  types.ReplyFixed,
	}
}

// synthesize voices a customer turn and moves it text_ready -> audio_ready.
// It reports false when synthesis or upload failed; the turn then stays
// text_ready and the client shows text only.
func (p *Pump) synthesize(ctx context.Context, job *types.Job, session *types.Session, turn *types.Turn) (bool, error) {
	started := time.Now()
	var (
		audioPath *string
		seconds   *float64
	)
	data, err := p.tts.Synthesize(ctx, turn.Text, turn.EmotionValue())
	if err != nil {
		p.log.Warn("tts failed", "turn_id", turn.ID, "error", err)
	}
	if len(data) > 0 {
		path := audio.TurnAudioPath(job.UserID, session.ID, turn.ID, types.AudioMP3)
		if uerr := p.store.Upload(ctx, path, data, types.AudioMP3.ContentType()); uerr != nil {
			p.log.Warn("tts upload failed", "turn_id", turn.ID, "error", uerr)
		} else {
			audioPath = &path
			seconds = speech.EstimateSeconds(turn.Text)
		}
	}

	ttsFailed := audioPath == nil
	if !ttsFailed {
		updates := map[string]interface{}{
			"status":     types.TurnAudioReady,
			"audio_path": *audioPath,
		}
		if seconds != nil {
			updates["audio_seconds"] = *seconds
		}
		ok, err := p.repos.Turns.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), session.ID, turn.ID,
			[]types.TurnStatus{types.TurnTextReady}, updates)
		if err != nil {
			return false, fmt.Errorf("store customer audio: %w", err)
		}
		if !ok {
			return false, errStopped
		}
		turn.Status = types.TurnAudioReady
		turn.AudioPath = audioPath
		turn.AudioSeconds = seconds
		observeStage(types.StageTTS, "ok", started)
	} else {
		observeStage(types.StageTTS, "failed", started)
	}

	turnID, jobID := turn.ID, job.ID
	p.events.Emit(ctx, events.EmitArgs{
		SessionID: session.ID,
		UserID:    job.UserID,
		TurnID:    &turnID,
		JobID:     &jobID,
		Data: types.CustomerAudioReady{
			TurnID:         turn.ID,
			AudioPath:      audioPath,
			AudioSeconds:   seconds,
			TTSFailed:      ttsFailed,
			Text:           turn.Text,
			StageElapsedMs: time.Since(started).Milliseconds(),
		},
	})
	return !ttsFailed, nil
}

// runCustomerTTS voices the opening customer turn of a session created with
// asynchronous first-turn synthesis.
func (p *Pump) runCustomerTTS(ctx context.Context, job *types.Job, start time.Time) (types.JobResult, error) {
	var result types.JobResult
	dbc := dbctx.Of(ctx)
	session, err := p.repos.Sessions.GetForUser(dbc, job.UserID, job.SessionID)
	if err != nil {
		return result, fmt.Errorf("load session: %w", err)
	}
	if !session.IsActive() {
		return result, fail("session_not_active", msgSessionNotActive)
	}
	turn, err := p.repos.Turns.GetTurn(dbc, job.SessionID, job.TurnID)
	if err != nil {
		return result, fmt.Errorf("load turn: %w", err)
	}
	if turn == nil || turn.Role != types.RoleCustomer || strings.TrimSpace(turn.Text) == "" {
		return result, fail("turn_not_found", "未找到需要合成语音的顾客回合")
	}
	if turn.Status != types.TurnTextReady {
		return result, nil
	}
	if err := p.stage(ctx, job, types.StageTTS); err != nil {
		return result, err
	}
	ok, err := p.synthesize(ctx, job, session, turn)
	if err != nil {
		return result, err
	}
	result.TTSFailed = !ok
	if err := p.stage(ctx, job, types.StageDone); err != nil {
		return result, err
	}
	p.log.Debug("opening tts processed", "turn_id", turn.ID, "elapsed_ms", time.Since(start).Milliseconds())
	return result, nil
}

func strPtr(s string) *string { return &s }
