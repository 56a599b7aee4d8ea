package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/voicecoach-backend/internal/data/db"
	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	httpserver "github.com/yungbote/voicecoach-backend/internal/http"
	httpH "github.com/yungbote/voicecoach-backend/internal/http/handlers"
	httpMW "github.com/yungbote/voicecoach-backend/internal/http/middleware"
	"github.com/yungbote/voicecoach-backend/internal/jobs/worker"
	"github.com/yungbote/voicecoach-backend/internal/observability"
	"github.com/yungbote/voicecoach-backend/internal/platform/jwtauth"
	"github.com/yungbote/voicecoach-backend/internal/platform/llm"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/platform/ratelimit"
	"github.com/yungbote/voicecoach-backend/internal/realtime"
	"github.com/yungbote/voicecoach-backend/internal/realtime/bus"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/coach"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/guard"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/pump"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/session"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/speech"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    repos.Set
	Bus      bus.Bus
	Hub      *realtime.SessionHub
	Events   *events.Queue
	Pump     *pump.Pump
	Worker   *worker.Worker
	Sessions session.Service
	Server   *httpserver.Server
	Metrics  *observability.Metrics

	dbService    *db.Service
	closers      []func() error
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New builds every component from the environment. Nothing runs until Start.
func New(ctx context.Context) (*App, error) {
	log, err := logger.New(LoadConfig(nil).LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	log := a.Log
	log.Info("Loading environment variables...")
	a.Cfg = LoadConfig(log)
	cfg := a.Cfg

	a.Metrics = observability.Init(log)
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	svc, err := db.New(log)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.dbService = svc
	a.DB = svc.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	log.Info("Wiring repos...")
	a.Repos = repos.NewSet(a.DB, log)

	b, err := bus.NewFromEnv(log)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	a.Bus = b
	a.closers = append(a.closers, b.Close)
	a.Hub = realtime.NewSessionHub(log)
	a.Events = events.NewQueue(a.Repos.Events, b, log)

	log.Info("Wiring clients...")
	storeCfg, err := audio.ResolveConfigFromEnv()
	if err != nil {
		return fmt.Errorf("resolve object storage: %w", err)
	}
	store, err := audio.New(ctx, storeCfg, log)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	var asr speech.Transcriber = speech.DisabledTranscriber{}
	if cfg.ASREnabled {
		t, closeASR, err := speech.NewGoogleTranscriber(ctx, speech.ASRConfigFromEnv(), log)
		if err != nil {
			log.Warn("ASR unavailable; audio turns will fail", "error", err)
		} else {
			asr = t
			a.closers = append(a.closers, closeASR)
		}
	}
	var tts speech.Synthesizer = speech.DisabledSynthesizer{}
	if cfg.TTSEnabled {
		s, err := speech.NewOpenAISynthesizer(speech.TTSConfigFromEnv(), log)
		if err != nil {
			log.Warn("TTS unavailable; customer turns stay text-only", "error", err)
		} else {
			tts = s
		}
	}

	provider, err := llm.NewProvider(ctx, llm.ConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	gen := coach.NewGenerator(provider, log)
	pack := scriptpack.Default(log)

	log.Info("Wiring services...")
	g := guard.New(guard.ConfigFromEnv())
	limiter := ratelimit.New(bus.RedisClient(b), cfg.RateLimitPerMin, time.Minute, log)

	a.Pump = pump.New(log, pump.Deps{
		Repos:  a.Repos,
		Events: a.Events,
		Store:  store,
		ASR:    asr,
		TTS:    tts,
		Coach:  gen,
		Pack:   pack,
	}, pump.Config{
		MaxTurns:       g.MaxTurns(),
		ModelRewrite:   cfg.ModelRewrite,
		RewritePercent: cfg.RewritePercent,
	})
	a.Worker = worker.NewWorker(log, a.Repos.Jobs, a.Pump, worker.ConfigFromEnv())
	a.Sessions = session.NewService(log, session.Deps{
		Repos:   a.Repos,
		Events:  a.Events,
		Store:   store,
		TTS:     tts,
		Coach:   gen,
		Pack:    pack,
		Limiter: limiter,
		Waker:   a.Worker,
	}, session.ConfigFromEnv(g.MaxTurns()))

	log.Info("Wiring handlers...")
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	verifier := jwtauth.NewVerifier(cfg.JWTSecretKey, cfg.AccessTokenTTL)
	a.Server = httpserver.NewServer(httpserver.RouterConfig{
		Log:               log,
		ServiceName:       cfg.ServiceName,
		Metrics:           a.Metrics,
		AuthMiddleware:    httpMW.NewAuthMiddleware(log, verifier),
		Guard:             g,
		VoiceCoachHandler: httpH.NewVoiceCoachHandler(log, a.Sessions, cfg.MaxAudioBytes),
		EventsHandler: httpH.NewEventsHandler(log, a.Sessions, a.Events, store, a.Hub, a.Pump, httpH.EventsConfig{
			Tick:       cfg.EventsTick,
			InlinePump: cfg.InlinePump,
		}),
		HealthHandler: httpH.NewHealthHandler(sqlDB),
	})
	return nil
}

// Start launches background loops. runWorker is false for API-only replicas
// that leave job execution to a dedicated worker process.
func (a *App) Start(ctx context.Context, runWorker bool) (context.Context, error) {
	if a == nil || a.cancel != nil {
		return nil, errors.New("app not initialized or already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Bus.StartForwarder(ctx, a.Hub.Notify); err != nil {
		cancel()
		return nil, fmt.Errorf("start bus forwarder: %w", err)
	}
	if a.Metrics != nil && a.Cfg.MetricsAddr != "" {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	}
	if runWorker {
		a.Worker.Start(ctx)
	}
	return ctx, nil
}

// Serve blocks on the HTTP server until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(ctx, addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
		a.otelShutdown = nil
	}
	if a.dbService != nil {
		_ = a.dbService.Close()
		a.dbService = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Migrate applies the schema and exits without wiring anything else.
func Migrate(log *logger.Logger) error {
	svc, err := db.New(log)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer svc.Close()
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	log.Info("Schema migrated", "driver", svc.Driver())
	return nil
}
