package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

// Metrics is a small in-process Prometheus registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	apiRequests   *CounterVec
	apiLatency    *HistogramVec
	apiInflight   *Gauge
	pumpStage     *HistogramVec
	jobsFinished  *CounterVec
	providerCalls *CounterVec
	turnErrors    *CounterVec
	staleJobs     *CounterVec
	queueDepth    *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("vc_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"vc_api_request_duration_seconds",
			"API request latency in seconds by method/route.",
			[]string{"method", "route"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight:   NewGauge("vc_api_inflight_requests", "In-flight API requests."),
		pumpStage:     NewHistogramVec("vc_pump_stage_duration_seconds", "Job pump stage latency by stage/status.", []string{"stage", "status"}, nil),
		jobsFinished:  NewCounterVec("vc_jobs_finished_total", "Finished jobs by kind/status.", []string{"kind", "status"}),
		providerCalls: NewCounterVec("vc_provider_calls_total", "External provider calls by provider/outcome.", []string{"provider", "outcome"}),
		turnErrors:    NewCounterVec("vc_turn_errors_total", "turn.error events by code.", []string{"code"}),
		staleJobs:     NewCounterVec("vc_stale_jobs_total", "Stale jobs recovered by action.", []string{"action"}),
		queueDepth:    NewGaugeVec("vc_job_queue_depth", "Jobs waiting by status.", []string{"status"}),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, pw := range []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.pumpStage, m.jobsFinished, m.providerCalls,
		m.turnErrors, m.staleJobs, m.queueDepth,
	} {
		if err := pw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

// ObservePumpStage records one pipeline stage; status is ok, degraded or
// error.
func (m *Metrics) ObservePumpStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.pumpStage.Observe(dur.Seconds(), stage, status)
}

func (m *Metrics) IncJobFinished(kind, status string) {
	if m != nil {
		m.jobsFinished.Inc(kind, status)
	}
}

func (m *Metrics) IncProviderCall(provider, outcome string) {
	if m != nil {
		m.providerCalls.Inc(provider, outcome)
	}
}

func (m *Metrics) IncTurnError(code string) {
	if m != nil {
		m.turnErrors.Inc(code)
	}
}

func (m *Metrics) AddStaleJobs(requeued, failed int64) {
	if m == nil {
		return
	}
	if requeued > 0 {
		m.staleJobs.add(float64(requeued), []string{"requeued"})
	}
	if failed > 0 {
		m.staleJobs.add(float64(failed), []string{"failed"})
	}
}

func (m *Metrics) SetQueueDepth(status string, n int64) {
	if m != nil {
		m.queueDepth.Set(float64(n), status)
	}
}
