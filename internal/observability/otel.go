// Package observability wires OpenTelemetry traces and metrics around the
// chat engine and the tracking pipeline.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/engine"
)

const instrumentationName = "modelgate.gateway"

// Runtime exposes OpenTelemetry HTTP wrappers and gateway metric hooks. A
// disabled runtime is a valid zero-cost no-op.
type Runtime struct {
	enabled bool

	chatRequestsCounter  metric.Int64Counter
	chatDurationHist     metric.Float64Histogram
	logDroppedCounter    metric.Int64Counter
	logWriteFailsCounter metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and runtime hooks.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An endpoint URL carries explicit transport intent and wins over
		// the insecure toggle.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(newScrubbingExporter(traceExporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithTimeout(exportTimeout))
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	meter := otel.Meter(instrumentationName)
	runtime.chatRequestsCounter = mustInt64Counter(meter, logger,
		"modelgate.chat.requests_total",
		"Count of chat requests by provider, model, and outcome.")
	runtime.logDroppedCounter = mustInt64Counter(meter, logger,
		"modelgate.tracking.queue_dropped_total",
		"Count of chat logs dropped because the tracking queue was full.")
	runtime.logWriteFailsCounter = mustInt64Counter(meter, logger,
		"modelgate.tracking.write_failed_total",
		"Count of chat logs dropped after storage write failures.")

	chatDurationHist, metricErr := meter.Float64Histogram(
		"modelgate.chat.duration_seconds",
		metric.WithDescription("Wall-clock duration of non-streaming chat requests."),
		metric.WithUnit("s"),
	)
	if metricErr != nil && logger != nil {
		logger.Warn("failed to create opentelemetry histogram", "metric", "modelgate.chat.duration_seconds", "error", metricErr)
	}
	runtime.chatDurationHist = chatDurationHist

	runtime.enabled = true
	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

func mustInt64Counter(meter metric.Meter, logger *slog.Logger, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil && logger != nil {
		logger.Warn("failed to create opentelemetry counter", "metric", name, "error", err)
	}
	return counter
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// WrapHTTPHandler wraps the inbound HTTP handler with OpenTelemetry spans.
func (r *Runtime) WrapHTTPHandler(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}
	return otelhttp.NewHandler(
		next,
		"gateway.request",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return strings.TrimSpace(req.Method) + " " + routePatternForPath(req.URL.Path)
		}),
	)
}

// RecordChatRequest counts one chat dispatch and observes its duration.
func (r *Runtime) RecordChatRequest(ctx context.Context, provider, model string, err error, duration time.Duration) {
	if !r.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("outcome", chatOutcome(err)),
	)
	if r.chatRequestsCounter != nil {
		r.chatRequestsCounter.Add(ctx, 1, attrs)
	}
	if r.chatDurationHist != nil {
		r.chatDurationHist.Record(ctx, duration.Seconds(), attrs)
	}
}

func chatOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		unknownProvider  *engine.UnknownProviderError
		unsupportedModel *engine.UnsupportedModelError
		missingCreds     *engine.MissingCredentialsError
		upstream         *engine.UpstreamError
	)
	switch {
	case errors.As(err, &unknownProvider):
		return "unknown_provider"
	case errors.As(err, &unsupportedModel):
		return "unsupported_model"
	case errors.As(err, &missingCreds):
		return "missing_credentials"
	case errors.As(err, &upstream):
		if upstream.Timeout() {
			return "upstream_timeout"
		}
		return "upstream_error"
	default:
		return "error"
	}
}

// RecordLogDrop increments the counter for chat logs shed by the full queue.
func (r *Runtime) RecordLogDrop() {
	if !r.Enabled() || r.logDroppedCounter == nil {
		return
	}
	r.logDroppedCounter.Add(context.Background(), 1)
}

// RecordLogWriteFailure increments the counter for logs lost to storage errors.
func (r *Runtime) RecordLogWriteFailure(failedCount int) {
	if !r.Enabled() || failedCount <= 0 || r.logWriteFailsCounter == nil {
		return
	}
	r.logWriteFailsCounter.Add(context.Background(), int64(failedCount))
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

func routePatternForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/engine/chat"):
		return "/api/engine/chat/*"
	case strings.HasPrefix(path, "/api/engine"):
		return "/api/engine/*"
	case strings.HasPrefix(path, "/api/tracking"):
		return "/api/tracking/*"
	case strings.HasPrefix(path, "/api/export"):
		return "/api/export"
	case path == "/health":
		return "/health"
	default:
		return "/other"
	}
}
