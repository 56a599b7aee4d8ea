// Package speech wraps speech-to-text and text-to-speech for practice turns.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speechapi "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/gcp"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// ErrSilence means the recognizer heard no speech at all.
var ErrSilence = errors.New("asr_silence")

type Transcript struct {
	Text            string
	Confidence      *float64
	DurationSeconds *float64
}

// Transcriber turns a recorded reply into text. Hints are phrases that bias
// recognition toward the scenario vocabulary.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format types.AudioFormat, hints ...string) (Transcript, error)
}

type ASRConfig struct {
	LanguageCode string
	Model        string
	MaxRetries   int
	Timeout      time.Duration
}

func ASRConfigFromEnv() ASRConfig {
	return ASRConfig{
		LanguageCode: envutil.String("VOICE_COACH_ASR_LANGUAGE", "cmn-Hans-CN"),
		Model:        envutil.String("VOICE_COACH_ASR_MODEL", "default"),
		MaxRetries:   envutil.Int("VOICE_COACH_ASR_MAX_RETRIES", 3),
		Timeout:      envutil.Seconds("VOICE_COACH_ASR_TIMEOUT_SEC", 45*time.Second),
	}
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

type googleTranscriber struct {
	log         *logger.Logger
	recognize   recognizeFunc
	cfg         ASRConfig
	baseBackoff time.Duration
}

func NewGoogleTranscriber(ctx context.Context, cfg ASRConfig, baseLog *logger.Logger) (Transcriber, func() error, error) {
	c, err := speechapi.NewClient(ctx, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, nil, fmt.Errorf("speech client: %w", err)
	}
	t := newGoogleTranscriber(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	}, cfg, baseLog)
	return t, c.Close, nil
}

func newGoogleTranscriber(fn recognizeFunc, cfg ASRConfig, baseLog *logger.Logger) *googleTranscriber {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "cmn-Hans-CN"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &googleTranscriber{
		log:         baseLog.With("service", "GoogleTranscriber"),
		recognize:   fn,
		cfg:         cfg,
		baseBackoff: 750 * time.Millisecond,
	}
}

func (g *googleTranscriber) Transcribe(ctx context.Context, audio []byte, format types.AudioFormat, hints ...string) (Transcript, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if len(audio) == 0 {
		return Transcript{}, nil
	}
	req := &speechpb.RecognizeRequest{
		Config: buildRecognitionConfig(format, g.cfg, hints),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	start := time.Now()
	resp, err := g.retry(ctx, func() (*speechpb.RecognizeResponse, error) {
		return g.recognize(ctx, req)
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("speech recognize: %w", err)
	}
	out, err := parseRecognizeResponse(resp)
	g.log.Debug("asr finished",
		"format", format,
		"bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds(),
		"chars", len([]rune(out.Text)),
	)
	return out, err
}

func buildRecognitionConfig(format types.AudioFormat, cfg ASRConfig, hints []string) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: true,
		Encoding:                   encodingFor(format),
	}
	switch format {
	case types.AudioMP3:
		rc.SampleRateHertz = 16000
	case types.AudioOGG:
		rc.SampleRateHertz = 48000
	}
	phrases := make([]string, 0, len(hints))
	for _, h := range hints {
		if h = strings.TrimSpace(h); h != "" {
			phrases = append(phrases, h)
		}
	}
	if len(phrases) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: phrases}}
	}
	return rc
}

func encodingFor(format types.AudioFormat) speechpb.RecognitionConfig_AudioEncoding {
	switch format {
	case types.AudioWAV:
		return speechpb.RecognitionConfig_LINEAR16
	case types.AudioFLAC:
		return speechpb.RecognitionConfig_FLAC
	case types.AudioOGG:
		return speechpb.RecognitionConfig_OGG_OPUS
	case types.AudioMP3:
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseRecognizeResponse joins the top alternatives. No results at all is
// silence; results with blank transcripts are an empty transcript.
func parseRecognizeResponse(resp *speechpb.RecognizeResponse) (Transcript, error) {
	if resp == nil || len(resp.Results) == 0 {
		return Transcript{}, ErrSilence
	}
	var (
		full    strings.Builder
		confSum float64
		confN   int
		endSec  float64
	)
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		if sec := durToSec(r.ResultEndTime); sec > endSec {
			endSec = sec
		}
		if len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		full.WriteString(text)
		if alt.Confidence > 0 {
			confSum += float64(alt.Confidence)
			confN++
		}
	}
	out := Transcript{Text: strings.TrimSpace(full.String())}
	if confN > 0 {
		c := confSum / float64(confN)
		out.Confidence = &c
	}
	if endSec > 0 {
		out.DurationSeconds = &endSec
	}
	return out, nil
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}

func (g *googleTranscriber) retry(ctx context.Context, fn func() (*speechpb.RecognizeResponse, error)) (*speechpb.RecognizeResponse, error) {
	backoff := g.baseBackoff
	var last error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

// DisabledTranscriber is used when ASR is turned off; it always returns an
// empty transcript.
type DisabledTranscriber struct{}

func (DisabledTranscriber) Transcribe(context.Context, []byte, types.AudioFormat, ...string) (Transcript, error) {
	return Transcript{}, nil
}
