package speech

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/metrics"
)

// Synthesizer renders a customer line as mp3. A nil slice with a nil error
// means synthesis is unavailable and the turn stays text-only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emotion types.Emotion) ([]byte, error)
}

type TTSConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

func TTSConfigFromEnv() TTSConfig {
	return TTSConfig{
		APIKey:  envutil.String("OPENAI_API_KEY", ""),
		BaseURL: envutil.String("OPENAI_BASE_URL", ""),
		Model:   envutil.String("VOICE_COACH_TTS_MODEL", string(openai.TTSModel1)),
		Voice:   envutil.String("VOICE_COACH_TTS_VOICE", string(openai.VoiceNova)),
		Timeout: envutil.Seconds("VOICE_COACH_TTS_TIMEOUT_SEC", 20*time.Second),
	}
}

// TTSEmotion maps a customer emotion onto the coarser synthesis palette.
func TTSEmotion(e types.Emotion) string {
	switch e {
	case types.EmotionPleased:
		return "happy"
	case types.EmotionWorried:
		return "sad"
	case types.EmotionImpatient:
		return "angry"
	default:
		return "neutral"
	}
}

func speedFor(ttsEmotion string) float64 {
	switch ttsEmotion {
	case "happy":
		return 1.05
	case "sad":
		return 0.92
	case "angry":
		return 1.12
	default:
		return 1.0
	}
}

type openAISynthesizer struct {
	log    *logger.Logger
	client *openai.Client
	cfg    TTSConfig
}

func NewOpenAISynthesizer(cfg TTSConfig, baseLog *logger.Logger) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required for tts")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &openAISynthesizer{
		log:    baseLog.With("service", "OpenAISynthesizer"),
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}, nil
}

func (s *openAISynthesizer) Synthesize(ctx context.Context, text string, emotion types.Emotion) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ttsEmotion := TTSEmotion(emotion)
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speedFor(ttsEmotion),
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(io.LimitReader(resp, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, nil
	}
	s.log.Debug("tts finished", "emotion", ttsEmotion, "bytes", len(audio))
	return audio, nil
}

// DisabledSynthesizer always reports synthesis as unavailable.
type DisabledSynthesizer struct{}

func (DisabledSynthesizer) Synthesize(context.Context, string, types.Emotion) ([]byte, error) {
	return nil, nil
}

// EstimateSeconds approximates spoken length from the line itself, at about
// four and a half Chinese characters per second.
func EstimateSeconds(text string) *float64 {
	n := metrics.CountChineseChars(text)
	if n == 0 {
		n = len([]rune(text)) / 2
	}
	if n == 0 {
		return nil
	}
	sec := math.Max(1, math.Round(float64(n)/4.5*10)/10)
	return &sec
}
