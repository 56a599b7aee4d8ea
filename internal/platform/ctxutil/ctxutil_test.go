package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRequestAndTraceData(t *testing.T) {
	ctx := context.Background()
	if UserID(ctx) != uuid.Nil || TraceID(ctx) != "" {
		t.Fatalf("empty context should carry nothing")
	}
	uid := uuid.New()
	ctx = WithRequestData(ctx, &RequestData{UserID: uid, TokenString: "tok"})
	ctx = WithTraceData(ctx, &TraceData{TraceID: "t-1", RequestID: "r-1"})
	if UserID(ctx) != uid {
		t.Fatalf("user id: %v", UserID(ctx))
	}
	if TraceID(ctx) != "t-1" || GetTraceData(ctx).RequestID != "r-1" {
		t.Fatalf("trace data: %+v", GetTraceData(ctx))
	}
	if GetRequestData(nil) != nil {
		t.Fatalf("nil context should yield nil")
	}
}
