package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceLogHandlerWithoutSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewTraceLogHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "plain message")

	line := buf.String()
	if strings.Contains(line, "trace_id") {
		t.Fatalf("line=%q, want no trace_id without active span", line)
	}
	if !strings.Contains(line, "plain message") {
		t.Fatalf("line=%q, want message", line)
	}
}

func TestTraceLogHandlerInjectsSpanIDs(t *testing.T) {
	t.Parallel()

	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(NewTraceLogHandler(slog.NewTextHandler(&buf, nil)))
	logger.InfoContext(ctx, "inside span")

	line := buf.String()
	if !strings.Contains(line, "trace_id="+span.SpanContext().TraceID().String()) {
		t.Fatalf("line=%q, want trace_id of active span", line)
	}
	if !strings.Contains(line, "span_id="+span.SpanContext().SpanID().String()) {
		t.Fatalf("line=%q, want span_id of active span", line)
	}
}
