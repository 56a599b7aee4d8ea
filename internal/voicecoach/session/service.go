// Package session is the voice-coach session state machine: create a
// practice session, accept replies, roll back, end and report. Pipeline work
// is queued as jobs and finished by the pump.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/platform/ratelimit"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/report"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

const (
	FirstTTSSync  = "sync"
	FirstTTSAsync = "async"

	maxGoalCustomRunes = 120
	hintHistoryLimit   = 6
)

type Service interface {
	Catalog(ctx context.Context) (*Catalog, error)
	Create(ctx context.Context, in CreateInput) (*CreateResult, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*View, error)
	Load(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)
	GetTurn(ctx context.Context, sessionID, turnID uuid.UUID) (*TurnView, error)
	SubmitTurn(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	RequestHint(ctx context.Context, sessionID, customerTurnID uuid.UUID) (*HintResult, error)
	RefineAnalysis(ctx context.Context, sessionID, turnID uuid.UUID) (*AnalysisResult, error)
	RequestTTS(ctx context.Context, sessionID, turnID uuid.UUID) (*TTSResult, error)
	Rollback(ctx context.Context, sessionID, fromTurnID uuid.UUID) (*RollbackResult, error)
	End(ctx context.Context, sessionID uuid.UUID, mode EndMode) (*EndResult, error)
	Report(ctx context.Context, sessionID uuid.UUID) (*report.Report, error)
}

// Waker nudges the job worker after new work is queued.
type Waker interface {
	Wake()
}

type Config struct {
	MaxTurns int
	// FirstTTSMode is "sync" to voice the opening line inside Create, else
	// a customer_tts job is queued.
	FirstTTSMode string
	// FirstTurnModel lets the model write the opening line when the script
	// pack has no seed for the category.
	FirstTurnModel     bool
	SeedOpeningSeconds float64
}

func ConfigFromEnv(maxTurns int) Config {
	mode := FirstTTSAsync
	if envutil.String("VOICE_COACH_FIRST_TTS_MODE", FirstTTSAsync) == FirstTTSSync {
		mode = FirstTTSSync
	}
	return Config{
		MaxTurns:           maxTurns,
		FirstTTSMode:       mode,
		FirstTurnModel:     envutil.String("VOICE_COACH_FIRST_TURN_MODE", "preset") == "llm",
		SeedOpeningSeconds: envutil.Float("VOICE_COACH_SEED_OPENING_SECONDS", 3),
	}
}

type Deps struct {
	Repos   repos.Set
	Events  *events.Queue
	Store   audio.Store
	TTS     speech.Synthesizer
	Coach   *coach.Generator
	Pack    *scriptpack.Pack
	Limiter ratelimit.Limiter
	Waker   Waker
}

type service struct {
	log     *logger.Logger
	repos   repos.Set
	events  *events.Queue
	store   audio.Store
	tts     speech.Synthesizer
	coach   *coach.Generator
	pack    *scriptpack.Pack
	limiter ratelimit.Limiter
	waker   Waker
	cfg     Config
}

func NewService(baseLog *logger.Logger, deps Deps, cfg Config) Service {
	if cfg.MaxTurns < 1 {
		cfg.MaxTurns = 10
	}
	tts := deps.TTS
	if tts == nil {
		tts = speech.DisabledSynthesizer{}
	}
	pack := deps.Pack
	if pack == nil {
		pack = scriptpack.Default(baseLog)
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &service{
		log:     baseLog.With("service", "VoiceCoachSessionService"),
		repos:   deps.Repos,
		events:  deps.Events,
		store:   deps.Store,
		tts:     tts,
		coach:   deps.Coach,
		pack:    pack,
		limiter: limiter,
		waker:   deps.Waker,
		cfg:     cfg,
	}
}

// TurnView is a turn as clients see it: decoded analysis and features plus
// a freshly signed audio URL.
type TurnView struct {
	*types.Turn
	AudioURL *string             `json:"audio_url"`
	Analysis *types.TurnAnalysis `json:"analysis,omitempty"`
	Features types.TurnFeatures  `json:"features"`
}

type View struct {
	Session         *types.Session    `json:"session"`
	Scenario        scenario.Scenario `json:"scenario"`
	Turns           []TurnView        `json:"turns"`
	LastEventCursor int64             `json:"last_event_cursor"`
}

func userID(ctx context.Context) (uuid.UUID, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("missing request user: %w", types.ErrForbidden)
	}
	return rd.UserID, nil
}

// Load returns the caller's session. Foreign and missing sessions are both
// ErrNotFound.
func (s *service) Load(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.repos.Sessions.GetForUser(dbctx.Of(ctx), uid, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	return session, nil
}

func (s *service) loadActive(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrSessionClosed)
	}
	return session, nil
}

func (s *service) loadTurn(ctx context.Context, sessionID, turnID uuid.UUID) (*types.Turn, error) {
	turn, err := s.repos.Turns.GetTurn(dbctx.Of(ctx), sessionID, turnID)
	if err != nil {
		return nil, fmt.Errorf("load turn: %w", err)
	}
	if turn == nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, types.ErrNotFound)
	}
	return turn, nil
}

func (s *service) view(ctx context.Context, t *types.Turn) TurnView {
	return TurnView{
		Turn:     t,
		AudioURL: audio.SignOrNil(ctx, s.store, t.AudioPath),
		Analysis: t.AnalysisValue(),
		Features: t.FeaturesValue(),
	}
}

func (s *service) views(ctx context.Context, turns []*types.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, s.view(ctx, t))
	}
	return out
}

func (s *service) lastCursor(ctx context.Context, sessionID uuid.UUID) int64 {
	id, err := s.events.LastID(ctx, sessionID)
	if err != nil {
		s.log.Warn("last event id failed", "session_id", sessionID, "error", err)
		return 0
	}
	return id
}

func (s *service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

func (s *service) Get(ctx context.Context, sessionID uuid.UUID) (*View, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repos.Turns.ListTurns(dbctx.Of(ctx), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	sc, _ := scenario.Resolve(session.ScenarioID, session.CategoryID)
	return &View{
		Session:         session,
		Scenario:        sc,
		Turns:           s.views(ctx, turns),
		LastEventCursor: s.lastCursor(ctx, sessionID),
	}, nil
}

func (s *service) GetTurn(ctx context.Context, sessionID, turnID uuid.UUID) (*TurnView, error) {
	if _, err := s.Load(ctx, sessionID); err != nil {
		return nil, err
	}
	turn, err := s.loadTurn(ctx, sessionID, turnID)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, turn)
	return &v, nil
}
