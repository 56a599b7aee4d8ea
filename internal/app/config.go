package app

import (
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type Config struct {
	Port           string
	LogMode        string
	JWTSecretKey   string
	AccessTokenTTL time.Duration

	RateLimitPerMin int
	MaxAudioBytes   int
	InlinePump      bool
	EventsTick      time.Duration

	ModelRewrite   bool
	RewritePercent int
	ASREnabled     bool
	TTSEnabled     bool

	MetricsAddr string
	ServiceName string
	Environment string
	Version     string
}

func LoadConfig(log *logger.Logger) Config {
	secret := envutil.String("JWT_SECRET_KEY", "")
	if secret == "" && log != nil {
		log.Warn("JWT_SECRET_KEY not set; every token will be rejected")
	}
	return Config{
		Port:           envutil.String("PORT", "8080"),
		LogMode:        envutil.String("LOG_MODE", "development"),
		JWTSecretKey:   secret,
		AccessTokenTTL: envutil.Seconds("ACCESS_TOKEN_TTL", time.Hour),

		RateLimitPerMin: envutil.Int("VOICE_COACH_RATE_LIMIT_PER_MIN", 10),
		MaxAudioBytes:   envutil.Int("VOICE_COACH_MAX_AUDIO_BYTES", 10<<20),
		InlinePump:      envutil.Bool("VOICE_COACH_INLINE_PUMP", false),
		EventsTick:      time.Duration(envutil.Int("VOICE_COACH_EVENTS_TICK_MS", 220)) * time.Millisecond,

		ModelRewrite:   envutil.Bool("VOICE_COACH_MODEL_REWRITE", false),
		RewritePercent: envutil.Int("VOICE_COACH_MODEL_REWRITE_PERCENT", 30),
		ASREnabled:     envutil.Bool("VOICE_COACH_ASR_ENABLED", true),
		TTSEnabled:     envutil.Bool("VOICE_COACH_TTS_ENABLED", true),

		MetricsAddr: envutil.String("METRICS_ADDR", ""),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "voicecoach-backend"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	}
}
