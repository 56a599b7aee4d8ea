// Package ctxutil carries the caller identity and trace ids of one request
// through context.Context.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestDataKey struct{}
	traceDataKey   struct{}
)

// RequestData holds the authenticated caller for a request.
type RequestData struct {
	TokenString string
	UserID      uuid.UUID
}

// TraceData is attached once per HTTP request and echoed back in headers
// and event pages.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(Default(ctx), requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}

// UserID is uuid.Nil for anonymous contexts.
func UserID(ctx context.Context) uuid.UUID {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.UserID
	}
	return uuid.Nil
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}

func TraceID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.TraceID
	}
	return ""
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
