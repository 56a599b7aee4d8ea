package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidSequence  = errors.New("invalid turn sequence")
	ErrInvalidRole      = errors.New("invalid turn role")
	ErrSessionClosed    = errors.New("session closed")
	ErrRateLimited      = errors.New("rate limited")
	ErrForbidden        = errors.New("forbidden")
	ErrUnsupportedAudio = errors.New("unsupported audio format")
	ErrInvalidInput     = errors.New("invalid input")
)
