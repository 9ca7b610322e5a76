package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scrubbingExporter sanitizes all string attribute values before spans leave
// the process. Scrubbing runs in the batch export goroutine, off the request
// hot path.
type scrubbingExporter struct {
	wrapped sdktrace.SpanExporter
}

func newScrubbingExporter(wrapped sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &scrubbingExporter{wrapped: wrapped}
}

func (e *scrubbingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	scrubbed := make([]sdktrace.ReadOnlySpan, len(spans))
	for i, s := range spans {
		scrubbed[i] = scrubSpan(s)
	}
	return e.wrapped.ExportSpans(ctx, scrubbed)
}

func (e *scrubbingExporter) Shutdown(ctx context.Context) error {
	return e.wrapped.Shutdown(ctx)
}

// scrubSpan returns the original span when it is clean, or a sanitized copy.
func scrubSpan(s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	if !spanNeedsScrubbing(s) {
		return s
	}

	stub := tracetest.SpanStubFromReadOnlySpan(s)
	stub.Attributes = scrubAttributes(stub.Attributes)
	for i, event := range stub.Events {
		stub.Events[i].Attributes = scrubAttributes(event.Attributes)
	}
	if ContainsCredential(stub.Status.Description) {
		stub.Status.Description = ScrubCredentials(stub.Status.Description)
	}
	return stub.Snapshot()
}

func spanNeedsScrubbing(s sdktrace.ReadOnlySpan) bool {
	for _, a := range s.Attributes() {
		if a.Value.Type() == attribute.STRING && ContainsCredential(a.Value.AsString()) {
			return true
		}
	}
	for _, event := range s.Events() {
		for _, a := range event.Attributes {
			if a.Value.Type() == attribute.STRING && ContainsCredential(a.Value.AsString()) {
				return true
			}
		}
	}
	return ContainsCredential(s.Status().Description)
}

func scrubAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	result := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		if a.Value.Type() == attribute.STRING {
			if value := a.Value.AsString(); ContainsCredential(value) {
				result[i] = attribute.String(string(a.Key), ScrubCredentials(value))
				continue
			}
		}
		result[i] = a
	}
	return result
}
