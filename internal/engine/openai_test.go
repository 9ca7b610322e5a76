package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelgate/gateway/internal/config"
)

func openAITestProvider() config.ProviderConfig {
	return config.ProviderConfig{
		ID:   "openai",
		Name: "OpenAI",
		Chat: true,
		Keys: []string{"sk-configured"},
		Models: map[string]config.ModelConfig{
			"gpt-4o-mini": {Mode: "chat", MaxTokens: 128000, InputTokenCost: 0.00000015, OutputTokenCost: 0.0000006},
		},
	}
}

func openAIStreamBody(deltas ...string) string {
	var b strings.Builder
	for _, delta := range deltas {
		b.WriteString(`data: {"id":"chatcmpl-test","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"` + delta + `"}}]}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestOpenAIAdapterStreamsChunks(t *testing.T) {
	t.Parallel()

	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(openAIStreamBody("Hel", "lo")))
	}))
	defer upstream.Close()

	adapter := NewOpenAIAdapter(openAITestProvider())
	adapter.baseURL = upstream.URL + "/v1"

	raw, err := adapter.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini", ChatInput: "say hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	frames := drainText(t, raw.Stream)

	if got, want := strings.Join(frames, ""), "Hello"; got != want {
		t.Fatalf("output=%q, want %q", got, want)
	}
	if gotAuth != "Bearer sk-configured" {
		t.Fatalf("auth=%q, want %q", gotAuth, "Bearer sk-configured")
	}
}

func TestOpenAIAdapterCallerKeyOverridesConfigured(t *testing.T) {
	t.Parallel()

	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(openAIStreamBody("ok")))
	}))
	defer upstream.Close()

	adapter := NewOpenAIAdapter(openAITestProvider())
	adapter.baseURL = upstream.URL + "/v1"

	raw, err := adapter.Chat(context.Background(), &ChatRequest{APIKey: "sk-caller", Model: "gpt-4o-mini", ChatInput: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	drainText(t, raw.Stream)

	if gotAuth != "Bearer sk-caller" {
		t.Fatalf("auth=%q, want %q", gotAuth, "Bearer sk-caller")
	}
}

func TestOpenAIAdapterMissingCredentials(t *testing.T) {
	t.Parallel()

	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer upstream.Close()

	provider := openAITestProvider()
	provider.Keys = nil
	adapter := NewOpenAIAdapter(provider)
	adapter.baseURL = upstream.URL + "/v1"

	_, err := adapter.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini", ChatInput: "hi"})
	var credErr *MissingCredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("err=%v, want MissingCredentialsError", err)
	}
	if calls != 0 {
		t.Fatalf("upstream calls=%d, want %d", calls, 0)
	}
}

func TestOpenAIAdapterUpstreamError(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer upstream.Close()

	adapter := NewOpenAIAdapter(openAITestProvider())
	adapter.baseURL = upstream.URL + "/v1"

	_, err := adapter.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini", ChatInput: "hi"})
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("err=%v, want UpstreamError", err)
	}
	if upstreamErr.Status != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", upstreamErr.Status, http.StatusInternalServerError)
	}
	if upstreamErr.Provider != "openai" || upstreamErr.Model != "gpt-4o-mini" {
		t.Fatalf("provider/model=%q/%q, want openai/gpt-4o-mini", upstreamErr.Provider, upstreamErr.Model)
	}
}

func TestOpenAIAdapterTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	adapter := NewOpenAIAdapter(openAITestProvider())
	adapter.baseURL = upstream.URL + "/v1"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := adapter.Chat(ctx, &ChatRequest{Model: "gpt-4o-mini", ChatInput: "hi"})
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("err=%v, want UpstreamError", err)
	}
	if !upstreamErr.Timeout() {
		t.Fatalf("kind=%q, want timeout", upstreamErr.Kind)
	}
}
