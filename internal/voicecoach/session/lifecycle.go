package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/apierr"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/report"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

type EndMode string

const (
	EndOnly       EndMode = "end_only"
	EndViewReport EndMode = "view_report"
)

func ParseEndMode(raw string) EndMode {
	if EndMode(raw) == EndOnly {
		return EndOnly
	}
	return EndViewReport
}

type RollbackResult struct {
	Turns           []TurnView  `json:"turns"`
	RemovedTurnIDs  []uuid.UUID `json:"removed_turn_ids"`
	CanceledJobs    int64       `json:"canceled_jobs"`
	LastEventCursor int64       `json:"last_event_cursor"`
}

type EndResult struct {
	Session *types.Session `json:"session"`
	Report  *report.Report `json:"report,omitempty"`
}

// Rollback removes the beautician turn fromTurnID and everything after it so
// the trainee can answer the same customer line again.
func (s *service) Rollback(ctx context.Context, sessionID, fromTurnID uuid.UUID) (*RollbackResult, error) {
	if _, err := s.loadActive(ctx, sessionID); err != nil {
		return nil, err
	}
	dbc := dbctx.Of(ctx)
	surviving, removed, err := s.repos.Turns.RollbackFrom(dbc, sessionID, fromTurnID)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	canceled, err := s.repos.Jobs.CancelForTurns(dbc, sessionID, removed)
	if err != nil {
		return nil, fmt.Errorf("cancel jobs: %w", err)
	}
	s.log.Info("voice coach rollback",
		"session_id", sessionID,
		"from_turn_id", fromTurnID,
		"removed", len(removed),
		"canceled_jobs", canceled,
	)
	return &RollbackResult{
		Turns:           s.views(ctx, surviving),
		RemovedTurnIDs:  removed,
		CanceledJobs:    canceled,
		LastEventCursor: s.lastCursor(ctx, sessionID),
	}, nil
}

func (s *service) End(ctx context.Context, sessionID uuid.UUID, mode EndMode) (*EndResult, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Of(ctx)
	if session.IsActive() {
		now := time.Now().UTC()
		ok, err := s.repos.Sessions.UpdateFieldsIfStatus(dbc, sessionID, types.SessionActive, map[string]interface{}{
			"status":   types.SessionEnded,
			"ended_at": now,
		})
		if err != nil {
			return nil, fmt.Errorf("end session: %w", err)
		}
		if ok {
			s.log.Info("voice coach session ended", "session_id", sessionID, "mode", mode)
			n, err := s.repos.Jobs.CancelForSession(dbc, sessionID, "session ended")
			if err != nil {
				return nil, fmt.Errorf("cancel session jobs: %w", err)
			}
			if n > 0 {
				s.log.Info("canceled jobs of ended session", "session_id", sessionID, "count", n)
			}
		}
		if session, err = s.Load(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if mode == EndOnly {
		return &EndResult{Session: session}, nil
	}
	r, err := s.ensureReport(ctx, session)
	if err != nil {
		return nil, err
	}
	if session, err = s.Load(ctx, sessionID); err != nil {
		return nil, err
	}
	return &EndResult{Session: session, Report: r}, nil
}

func (s *service) Report(ctx context.Context, sessionID uuid.UUID) (*report.Report, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsActive() {
		return nil, apierr.New(http.StatusConflict, "session_not_ended",
			fmt.Errorf("session %s is still active: %w", sessionID, types.ErrInvalidSequence))
	}
	return s.ensureReport(ctx, session)
}

// ensureReport returns the stored report, generating and persisting it on
// first use. The returned copy carries signed audio URLs.
func (s *service) ensureReport(ctx context.Context, session *types.Session) (*report.Report, error) {
	stored, err := report.Decode(session.Report)
	if err != nil {
		s.log.Warn("stored report unreadable, regenerating", "session_id", session.ID, "error", err)
		stored = nil
	}
	if stored == nil {
		dbc := dbctx.Of(ctx)
		turns, err := s.repos.Turns.ListTurns(dbc, session.ID)
		if err != nil {
			return nil, fmt.Errorf("list turns: %w", err)
		}
		sc, _ := scenario.Resolve(session.ScenarioID, session.CategoryID)
		generated := report.Generate(sc, turns)
		total := generated.TotalScore
		now := time.Now().UTC()
		if err := s.repos.Sessions.UpdateFields(dbc, session.ID, map[string]interface{}{
			"report":              types.JSON(generated),
			"total_score":         &total,
			"dimension_scores":    types.JSON(generated.Scores()),
			"report_generated_at": now,
		}); err != nil {
			return nil, fmt.Errorf("store report: %w", err)
		}
		s.log.Info("voice coach report generated",
			"session_id", session.ID,
			"total_score", total,
			"turns", len(turns),
		)
		stored = &generated
	}
	signed := report.Sign(ctx, *stored, s.store)
	return &signed, nil
}
