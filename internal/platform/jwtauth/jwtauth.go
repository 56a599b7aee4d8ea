// Package jwtauth issues and verifies the HS256 access tokens that carry the
// caller's user id.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/platform/ctxutil"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	jwt.RegisteredClaims
}

type Verifier struct {
	secret    []byte
	accessTTL time.Duration
}

func NewVerifier(secret string, accessTTL time.Duration) *Verifier {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &Verifier{secret: []byte(secret), accessTTL: accessTTL}
}

// Issue signs a token for userID. Used by the dev token command and tests.
func (v *Verifier) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *Verifier) Parse(tokenString string) (uuid.UUID, error) {
	if len(v.secret) == 0 {
		return uuid.Nil, fmt.Errorf("jwt secret not configured: %w", ErrInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %v: %w", err, ErrInvalidToken)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token: %w", ErrInvalidToken)
	}
	return userID, nil
}

// ContextFromToken verifies tokenString and attaches the caller to ctx.
func (v *Verifier) ContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	userID, err := v.Parse(tokenString)
	if err != nil {
		return ctx, err
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}), nil
}
