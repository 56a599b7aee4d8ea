package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMetricsWritePrometheus(t *testing.T) {
	m := newMetrics()
	m.ObserveAPI("GET", "/api/voice-coach/sessions/:id/events", "200", 120*time.Millisecond)
	m.ObservePumpStage("asr", "ok", 2*time.Second)
	m.IncTurnError("asr_empty")
	m.IncTurnError("asr_empty")
	m.AddStaleJobs(2, 0)
	m.SetQueueDepth("queued", 3)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`vc_api_requests_total{method="GET",route="/api/voice-coach/sessions/:id/events",status="200"} 1`,
		`vc_pump_stage_duration_seconds_bucket{stage="asr",status="ok",le="2"} 1`,
		`vc_pump_stage_duration_seconds_bucket{stage="asr",status="ok",le="1"} 0`,
		`vc_turn_errors_total{code="asr_empty"} 2`,
		`vc_stale_jobs_total{action="requeued"} 2`,
		`vc_job_queue_depth{status="queued"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, `action="failed"`) {
		t.Fatalf("zero failed count should not be written")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Second)
	m.IncTurnError("x")
	m.ApiInflightInc()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "pump.asr")
	if ctx == nil || span == nil {
		t.Fatalf("expected a no-op span")
	}
	EndSpan(span, errors.New("boom"))
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labels: %s", got)
	}
}
