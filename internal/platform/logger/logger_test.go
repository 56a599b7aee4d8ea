package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_key", "sk-live",
		"user_id", "8f1c",
		"audio_base64", "AAAA",
		"stage", "asr",
	})
	if len(out) != 8 {
		t.Fatalf("len: want=8 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key: want redacted got=%v", out[1])
	}
	if s, _ := out[3].(string); !strings.HasPrefix(s, "hash:") || len(s) != len("hash:")+12 {
		t.Fatalf("user_id: want hash got=%v", out[3])
	}
	if out[5] != "[REDACTED]" {
		t.Fatalf("audio_base64: want redacted got=%v", out[5])
	}
	if out[7] != "asr" {
		t.Fatalf("stage: want=asr got=%v", out[7])
	}
}

func TestSanitizeKVsRedactsJWTValues(t *testing.T) {
	jwtLike := "eyJhbGciOiJIUzI1.eyJzdWIiOiIxMjM0.sig"
	out := sanitizeKVs([]interface{}{"note", jwtLike})
	if out[1] != "[REDACTED]" {
		t.Fatalf("jwt: want redacted got=%v", out[1])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"k", "v", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd kvs: got=%v", out)
	}
}
