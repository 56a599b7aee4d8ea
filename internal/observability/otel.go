package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

const tracerName = "github.com/yungbote/voicecoach-backend"

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel installs the global tracer provider when OTEL_ENABLED is set. The
// returned shutdown func is nil when tracing is off.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		if !envutil.Bool("OTEL_ENABLED", false) {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "voicecoach"
		}
		res, err := resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
				semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			),
		)
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sampler),
			sdktrace.WithResource(res),
		}
		exporter, expErr := buildTraceExporter(ctx, log)
		if expErr != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr)
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", serviceName, "endpoint", otelEndpoint())
	})
	return otelShutdown
}

// StartSpan opens a span on the global tracer. Without InitOTel it is a
// no-op span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func otelSampleRatio() float64 {
	f := envutil.Float("OTEL_SAMPLER_RATIO", 0.1)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func otelEndpoint() string {
	return envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func otelHeaders() map[string]string {
	headers := map[string]string{}
	for _, part := range envutil.CSV("OTEL_EXPORTER_OTLP_HEADERS") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if key != "" && val != "" {
			headers[key] = val
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func buildTraceExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	if endpoint := otelEndpoint(); endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if headers := otelHeaders(); headers != nil {
			opts = append(opts, otlptracehttp.WithHeaders(headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	return exp, nil
}
