package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

type HintResult struct {
	TurnID uuid.UUID `json:"turn_id"`
	coach.Hint
}

type AnalysisResult struct {
	TurnID   uuid.UUID          `json:"turn_id"`
	Analysis types.TurnAnalysis `json:"analysis"`
	Cached   bool               `json:"cached"`
}

type TTSResult struct {
	TurnID   uuid.UUID  `json:"turn_id"`
	AudioURL *string    `json:"audio_url"`
	Queued   bool       `json:"queued"`
	JobID    *uuid.UUID `json:"job_id,omitempty"`
}

func (s *service) history(ctx context.Context, sessionID uuid.UUID, uptoIndex, limit int) ([]types.HistoryItem, error) {
	if uptoIndex < 0 {
		return []types.HistoryItem{}, nil
	}
	turns, err := s.repos.Turns.History(dbctx.Of(ctx), sessionID, uptoIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return types.ToHistory(turns), nil
}

// RequestHint suggests how to answer a customer turn. It never writes.
func (s *service) RequestHint(ctx context.Context, sessionID, customerTurnID uuid.UUID) (*HintResult, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turn, err := s.loadTurn(ctx, sessionID, customerTurnID)
	if err != nil {
		return nil, err
	}
	if turn.Role != types.RoleCustomer {
		return nil, fmt.Errorf("hint target must be a customer turn: %w", types.ErrInvalidRole)
	}
	sc, cat := scenario.Resolve(session.ScenarioID, session.CategoryID)

	if tmpl, ok := s.pack.HintTemplate(cat, turn.IntentValue()); ok && strings.TrimSpace(tmpl.HintText) != "" {
		return &HintResult{TurnID: turn.ID, Hint: coach.TemplateHint(tmpl)}, nil
	}
	history, err := s.history(ctx, sessionID, turn.TurnIndex-1, hintHistoryLimit)
	if err != nil {
		return nil, err
	}
	customer := types.HistoryItem{Role: types.RoleCustomer, Text: turn.Text, Emotion: turn.EmotionValue()}
	hint, err := s.coach.Hint(ctx, sc, history, customer)
	if err != nil {
		s.log.Warn("hint degraded to static", "session_id", sessionID, "turn_id", turn.ID, "error", err)
		hint = coach.StaticHint(cat)
	}
	return &HintResult{TurnID: turn.ID, Hint: hint}, nil
}

// RefineAnalysis returns the analysis of a beautician turn, producing it on
// demand when the pipeline skipped it.
func (s *service) RefineAnalysis(ctx context.Context, sessionID, turnID uuid.UUID) (*AnalysisResult, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turn, err := s.loadTurn(ctx, sessionID, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Role != types.RoleBeautician {
		return nil, fmt.Errorf("analysis target must be a beautician turn: %w", types.ErrInvalidRole)
	}
	if cached := turn.AnalysisValue(); cached != nil {
		return &AnalysisResult{TurnID: turn.ID, Analysis: *cached, Cached: true}, nil
	}
	if strings.TrimSpace(turn.Text) == "" || turn.Status == types.TurnPending || turn.Status == types.TurnFailed {
		return nil, apierr.New(http.StatusBadRequest, "turn_text_empty",
			fmt.Errorf("turn %s has no transcript: %w", turn.ID, types.ErrInvalidInput))
	}
	reply, err := s.loadTurn(ctx, sessionID, derefID(turn.ReplyToTurnID))
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "reply_turn_not_found", err)
	}

	sc, cat := scenario.Resolve(session.ScenarioID, session.CategoryID)
	var analysis types.TurnAnalysis
	if tmpl, ok := s.pack.AnalysisTemplate(cat, reply.IntentValue()); ok {
		analysis = coach.MergeRisks(coach.FromTemplate(tmpl), turn.Text)
	} else {
		history, err := s.history(ctx, sessionID, reply.TurnIndex-1, 8)
		if err != nil {
			return nil, err
		}
		customer := types.HistoryItem{Role: types.RoleCustomer, Text: reply.Text, Emotion: reply.EmotionValue()}
		analysis, err = s.coach.AnalyzeTurn(ctx, sc, history, customer, turn.Text)
		if err != nil {
			return nil, fmt.Errorf("analyze turn: %w", err)
		}
	}

	ok, err := s.repos.Turns.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), sessionID, turn.ID,
		[]types.TurnStatus{types.TurnTextReady},
		map[string]interface{}{
			"status":   types.TurnAnalysisReady,
			"analysis": types.JSON(analysis),
		})
	if err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	if !ok {
		// The pipeline finished first; its analysis wins.
		fresh, err := s.loadTurn(ctx, sessionID, turn.ID)
		if err != nil {
			return nil, err
		}
		if cached := fresh.AnalysisValue(); cached != nil {
			return &AnalysisResult{TurnID: turn.ID, Analysis: *cached, Cached: true}, nil
		}
		return &AnalysisResult{TurnID: turn.ID, Analysis: analysis}, nil
	}

	tid := turn.ID
	s.events.Emit(ctx, events.EmitArgs{
		SessionID: sessionID,
		UserID:    session.UserID,
		TurnID:    &tid,
		Data:      types.AnalysisReady{TurnID: turn.ID, Analysis: analysis},
	})
	return &AnalysisResult{TurnID: turn.ID, Analysis: analysis}, nil
}

// RequestTTS queues synthesis for a customer turn that has no audio yet.
func (s *service) RequestTTS(ctx context.Context, sessionID, turnID uuid.UUID) (*TTSResult, error) {
	session, err := s.loadActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turn, err := s.loadTurn(ctx, sessionID, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Role != types.RoleCustomer {
		return nil, fmt.Errorf("tts target must be a customer turn: %w", types.ErrInvalidRole)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return nil, apierr.New(http.StatusBadRequest, "turn_text_empty",
			fmt.Errorf("turn %s has no text: %w", turn.ID, types.ErrInvalidInput))
	}
	if turn.AudioPath != nil {
		return &TTSResult{TurnID: turn.ID, AudioURL: audio.SignOrNil(ctx, s.store, turn.AudioPath)}, nil
	}

	dbc := dbctx.Of(ctx)
	if job, err := s.repos.Jobs.LatestForTurn(dbc, sessionID, turn.ID); err != nil {
		return nil, fmt.Errorf("load tts job: %w", err)
	} else if job != nil && (job.Status == types.JobQueued || job.Status == types.JobProcessing) {
		id := job.ID
		return &TTSResult{TurnID: turn.ID, Queued: true, JobID: &id}, nil
	}
	job, err := s.repos.Jobs.Create(dbc, &types.Job{
		SessionID: sessionID,
		UserID:    session.UserID,
		TurnID:    turn.ID,
		Kind:      types.JobCustomerTTS,
	})
	if err != nil {
		return nil, fmt.Errorf("queue tts job: %w", err)
	}
	s.wake()
	id := job.ID
	return &TTSResult{TurnID: turn.ID, Queued: true, JobID: &id}, nil
}

func derefID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
