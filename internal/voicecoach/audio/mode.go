package audio

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
)

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
	ModeMemory      Mode = "memory"
)

const DefaultBucket = "voice-coach-audio"

type Config struct {
	Mode          Mode
	Bucket        string
	EmulatorHost  string
	PublicBaseURL string
	SignTTL       time.Duration
	// CompatibilityFallback is set when the mode was inferred from
	// STORAGE_EMULATOR_HOST rather than OBJECT_STORAGE_MODE.
	CompatibilityFallback bool
}

func (cfg Config) IsEmulatorMode() bool { return cfg.Mode == ModeGCSEmulator }

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid audio storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q, %q)", e.Mode, ModeGCS, ModeGCSEmulator, ModeMemory)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ModeGCSEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	case ConfigErrorMissingBucket:
		return "VOICE_COACH_AUDIO_BUCKET must not be empty"
	default:
		return "invalid audio storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveConfigFromEnv reads OBJECT_STORAGE_MODE, STORAGE_EMULATOR_HOST,
// VOICE_COACH_AUDIO_BUCKET, OBJECT_STORAGE_PUBLIC_BASE_URL and
// VOICE_COACH_AUDIO_SIGN_TTL_SEC.
func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("VOICE_COACH_AUDIO_BUCKET", DefaultBucket),
		PublicBaseURL: strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
		SignTTL:       envutil.Seconds("VOICE_COACH_AUDIO_SIGN_TTL_SEC", time.Hour),
	}

	rawMode := envutil.String("OBJECT_STORAGE_MODE", "")
	switch mode := Mode(strings.ToLower(rawMode)); mode {
	case "":
		if cfg.EmulatorHost != "" {
			cfg.Mode = ModeGCSEmulator
			cfg.CompatibilityFallback = true
		} else {
			cfg.Mode = ModeGCS
		}
	case ModeGCS, ModeGCSEmulator, ModeMemory:
		cfg.Mode = mode
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Mode: rawMode}
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	switch cfg.Mode {
	case ModeMemory:
		return nil
	case ModeGCS, ModeGCSEmulator:
	default:
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ConfigError{
			Code:         ConfigErrorInvalidEmulatorHost,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return nil
}
