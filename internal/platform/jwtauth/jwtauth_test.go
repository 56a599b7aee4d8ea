package jwtauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", time.Minute)
	uid := uuid.New()
	token, err := v.Issue(uid)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ctx, err := v.ContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID != uid || rd.TokenString != token {
		t.Fatalf("request data = %+v", rd)
	}
}

func TestRejectsForeignSecretAndExpiry(t *testing.T) {
	token, err := NewVerifier("other", time.Minute).Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier("secret", time.Minute).Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret: err = %v", err)
	}

	v := &Verifier{secret: []byte("secret"), accessTTL: -time.Minute}
	stale, err := v.Issue(uuid.New())
	if err != nil {
		t.Fatalf("Issue stale: %v", err)
	}
	if _, err := v.Parse(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: err = %v", err)
	}
}
