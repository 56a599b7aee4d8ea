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
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

// First customer turn sources.
const (
	SourceSeedFixed = "seed_fixed"
	SourceSeedTTS   = "seed_tts"
	SourceModel     = "llm"
)

type Catalog struct {
	Categories          []scenario.Category             `json:"categories"`
	CrisisGoalTemplates []scriptpack.CrisisGoalTemplate `json:"crisis_goal_templates"`
	Recommendation      scriptpack.Recommendation       `json:"recommendation"`
}

type CreateInput struct {
	ScenarioID     string `json:"scenario_id"`
	CategoryID     string `json:"category_id"`
	GoalTemplateID string `json:"goal_template_id"`
	GoalCustom     string `json:"goal_custom"`
}

type FirstTurn struct {
	TurnView
	Source     string `json:"source"`
	TTSFailed  bool   `json:"tts_failed"`
	TTSPending bool   `json:"tts_pending"`
}

type CreateResult struct {
	Session        *types.Session            `json:"session"`
	Scenario       scenario.Scenario         `json:"scenario"`
	Category       scenario.Category         `json:"category"`
	Recommendation scriptpack.Recommendation `json:"recommendation"`
	FirstTurn      FirstTurn                 `json:"first_customer_turn"`
}

func (s *service) recommendation(ctx context.Context, uid uuid.UUID) scriptpack.Recommendation {
	latest, err := s.repos.Sessions.LatestEndedForUser(dbctx.Of(ctx), uid)
	if err != nil {
		s.log.Warn("load latest ended session failed", "user_id", uid, "error", err)
	}
	return scriptpack.RecommendCategory(latest.Scores())
}

func (s *service) Catalog(ctx context.Context) (*Catalog, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		Categories:          scenario.Categories(),
		CrisisGoalTemplates: s.pack.CrisisGoalTemplates(),
		Recommendation:      s.recommendation(ctx, uid),
	}, nil
}

func pickCategory(in CreateInput, fallback scenario.CategoryID) scenario.CategoryID {
	if raw := strings.TrimSpace(in.CategoryID); scenario.IsCategory(raw) {
		return scenario.CategoryID(raw)
	}
	if raw := strings.TrimSpace(in.ScenarioID); raw != "" {
		_, cat := scenario.Resolve(raw, "")
		return cat
	}
	return fallback
}

func (s *service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	rec := s.recommendation(ctx, uid)
	cat := pickCategory(in, rec.CategoryID)

	var goalTemplateID, goalCustom *string
	if cat == scenario.CategoryCrisis {
		id := strings.TrimSpace(in.GoalTemplateID)
		if _, ok := s.pack.CrisisGoalTemplate(id); !ok {
			return nil, apierr.New(http.StatusBadRequest, "missing_goal_template_id",
				fmt.Errorf("危机场景必须先选择目标模板: %w", types.ErrInvalidInput))
		}
		goalTemplateID = &id
		if custom := strings.TrimSpace(in.GoalCustom); custom != "" {
			if r := []rune(custom); len(r) > maxGoalCustomRunes {
				custom = string(r[:maxGoalCustomRunes])
			}
			goalCustom = &custom
		}
	}
	sc := scenario.ForCategory(cat)

	dimension := ""
	if len(rec.BasedOnReport.WeakestDimensions) > 0 {
		dimension = rec.BasedOnReport.WeakestDimensions[0]
	}
	opening, hasOpening := s.pack.PickOpeningSeed(cat, dimension, uid.String())

	fb := scenario.FallbackOpening(cat)
	text, emotion, tag := fb.Text, types.NormalizeEmotion(fb.Emotion, types.EmotionNeutral), fb.Tag
	source := types.ReplyFixed
	switch {
	case hasOpening && strings.TrimSpace(opening.Text) != "":
		text, emotion, tag = opening.Text, opening.Emotion, opening.Tag
	case s.cfg.FirstTurnModel:
		gen, gerr := s.coach.CustomerTurn(ctx, sc, []types.HistoryItem{}, "")
		if gerr != nil {
			s.log.Warn("opening generation failed; using static opening", "category_id", cat, "error", gerr)
		} else {
			text, emotion, tag = gen.Text, gen.Emotion, gen.Tag
			source = types.ReplyModel
		}
	}

	policy := s.pack.InitialPolicyState(cat, goalTemplateID, goalCustom, opening.IntentID, opening.AngleID)
	if hasOpening && opening.LineID != "" {
		policy.UsedLineIDs = []string{opening.LineID}
	}

	session, err := s.repos.Sessions.Create(dbctx.Of(ctx), &types.Session{
		UserID:         uid,
		ScenarioID:     sc.ID,
		CategoryID:     string(cat),
		GoalTemplateID: goalTemplateID,
		GoalCustom:     goalCustom,
		Status:         types.SessionActive,
		PolicyState:    types.JSON(policy),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	turn := &types.Turn{
		ID:          uuid.New(),
		Role:        types.RoleCustomer,
		Status:      types.TurnTextReady,
		Text:        text,
		Emotion:     &emotion,
		ReplySource: &source,
		Features:    types.JSON(types.TurnFeatures{Tag: tag}),
	}
	if hasOpening {
		turn.LineID = optional(opening.LineID)
		turn.IntentID = optional(opening.IntentID)
		turn.AngleID = optional(opening.AngleID)
	}

	first := FirstTurn{Source: SourceModel}
	if hasOpening {
		first.Source = SourceSeedTTS
	}
	if hasOpening && opening.AudioSeedPath != "" {
		if ok, _ := s.store.Exists(ctx, opening.AudioSeedPath); ok {
			path := opening.AudioSeedPath
			secs := s.cfg.SeedOpeningSeconds
			if opening.AudioSeconds != nil && *opening.AudioSeconds > 0 {
				secs = *opening.AudioSeconds
			}
			turn.AudioPath = &path
			if secs > 0 {
				turn.AudioSeconds = &secs
			}
			turn.Status = types.TurnAudioReady
			first.Source = SourceSeedFixed
		}
	}
	if turn.AudioPath == nil && s.cfg.FirstTTSMode == FirstTTSSync {
		first.TTSFailed = !s.synthesizeOpening(ctx, uid, session.ID, turn)
	}

	turn, err = s.repos.Turns.AppendTurn(dbctx.Of(ctx), session.ID, turn)
	if err != nil {
		return nil, fmt.Errorf("create opening turn: %w", err)
	}

	if turn.AudioPath == nil && s.cfg.FirstTTSMode != FirstTTSSync {
		if _, err := s.repos.Jobs.Create(dbctx.Of(ctx), &types.Job{
			SessionID: session.ID,
			UserID:    uid,
			TurnID:    turn.ID,
			Kind:      types.JobCustomerTTS,
		}); err != nil {
			s.log.Warn("queue opening tts failed", "session_id", session.ID, "error", err)
		} else {
			first.TTSPending = true
			s.wake()
		}
	}
	first.TurnView = s.view(ctx, turn)

	s.log.Info("voice coach session created",
		"session_id", session.ID,
		"user_id", uid,
		"category_id", cat,
		"first_turn_source", first.Source,
	)
	return &CreateResult{
		Session:        session,
		Scenario:       sc,
		Category:       scenario.CategoryByID(cat),
		Recommendation: rec,
		FirstTurn:      first,
	}, nil
}

// synthesizeOpening voices turn before it is stored. It reports false when
// synthesis or upload failed; the turn then stays text_ready.
func (s *service) synthesizeOpening(ctx context.Context, uid, sessionID uuid.UUID, turn *types.Turn) bool {
	data, err := s.tts.Synthesize(ctx, turn.Text, turn.EmotionValue())
	if err != nil || len(data) == 0 {
		if err != nil {
			s.log.Warn("opening tts failed", "session_id", sessionID, "error", err)
		}
		return false
	}
	path := audio.TurnAudioPath(uid, sessionID, turn.ID, types.AudioMP3)
	if err := s.store.Upload(ctx, path, data, types.AudioMP3.ContentType()); err != nil {
		s.log.Warn("opening tts upload failed", "session_id", sessionID, "error", err)
		return false
	}
	turn.AudioPath = &path
	turn.AudioSeconds = speech.EstimateSeconds(turn.Text)
	turn.Status = types.TurnAudioReady
	return true
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
