package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/engine"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	t.Parallel()

	runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if runtime.Enabled() {
		t.Fatal("runtime enabled, want disabled")
	}

	// Disabled hooks must be callable without panicking.
	runtime.RecordChatRequest(context.Background(), "openai", "gpt-4o", nil, time.Second)
	runtime.RecordLogDrop()
	runtime.RecordLogWriteFailure(3)
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWrapHTTPHandlerDisabledPassthrough(t *testing.T) {
	t.Parallel()

	runtime := &Runtime{}
	var called bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	wrapped := runtime.WrapHTTPHandler(inner)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called {
		t.Fatal("inner handler not invoked")
	}
}

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		wantEndpoint string
		wantInsecure bool
		wantErr      bool
	}{
		{name: "bare host", input: "collector:4318", wantEndpoint: "collector:4318"},
		{name: "http url", input: "http://collector:4318", wantEndpoint: "collector:4318", wantInsecure: true},
		{name: "https url", input: "https://collector:4318", wantEndpoint: "collector:4318"},
		{name: "empty", input: "  ", wantErr: true},
		{name: "bad scheme", input: "grpc://collector:4317", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			endpoint, insecure, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalize(%q) accepted, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize(%q): %v", tt.input, err)
			}
			if endpoint != tt.wantEndpoint || insecure != tt.wantInsecure {
				t.Fatalf("normalize(%q)=%q/%v, want %q/%v", tt.input, endpoint, insecure, tt.wantEndpoint, tt.wantInsecure)
			}
		})
	}
}

func TestRoutePatternForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/engine/chat/openai", want: "/api/engine/chat/*"},
		{path: "/api/engine/providers", want: "/api/engine/*"},
		{path: "/api/tracking/logs/abc", want: "/api/tracking/*"},
		{path: "/api/export", want: "/api/export"},
		{path: "/health", want: "/health"},
		{path: "/favicon.ico", want: "/other"},
	}
	for _, tt := range tests {
		if got := routePatternForPath(tt.path); got != tt.want {
			t.Fatalf("routePatternForPath(%q)=%q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestChatOutcomeClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "ok"},
		{name: "unknown provider", err: &engine.UnknownProviderError{Provider: "nope"}, want: "unknown_provider"},
		{name: "unsupported model", err: &engine.UnsupportedModelError{Provider: "openai", Model: "nope"}, want: "unsupported_model"},
		{name: "missing credentials", err: &engine.MissingCredentialsError{Provider: "openai"}, want: "missing_credentials"},
		{name: "upstream timeout", err: &engine.UpstreamError{Kind: engine.UpstreamKindTimeout}, want: "upstream_timeout"},
		{name: "upstream failure", err: &engine.UpstreamError{Status: 500}, want: "upstream_error"},
		{name: "anything else", err: errors.New("boom"), want: "error"},
	}
	for _, tt := range tests {
		if got := chatOutcome(tt.err); got != tt.want {
			t.Fatalf("chatOutcome(%s)=%q, want %q", tt.name, got, tt.want)
		}
	}
}
