package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelgate/gateway/internal/config"
)

func anthropicTestProvider() config.ProviderConfig {
	return config.ProviderConfig{
		ID:   "anthropic",
		Name: "Anthropic",
		Chat: true,
		Keys: []string{"sk-ant-configured"},
		Models: map[string]config.ModelConfig{
			"claude-3-5-haiku-20241022": {Mode: "chat", MaxTokens: 200000, InputTokenCost: 0.0000008, OutputTokenCost: 0.000004},
		},
	}
}

func anthropicStreamBody(deltas ...string) string {
	var b strings.Builder
	b.WriteString("event: message_start\n")
	b.WriteString(`data: {"type":"message_start","message":{"id":"msg_test","type":"message","role":"assistant","content":[],"model":"claude-3-5-haiku-20241022","stop_reason":null,"usage":{"input_tokens":3,"output_tokens":1}}}` + "\n\n")
	b.WriteString("event: content_block_start\n")
	b.WriteString(`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n")
	for _, delta := range deltas {
		b.WriteString("event: content_block_delta\n")
		b.WriteString(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"` + delta + `"}}` + "\n\n")
	}
	b.WriteString("event: content_block_stop\n")
	b.WriteString(`data: {"type":"content_block_stop","index":0}` + "\n\n")
	b.WriteString("event: message_stop\n")
	b.WriteString(`data: {"type":"message_stop"}` + "\n\n")
	return b.String()
}

func TestAnthropicAdapterStreamsChunks(t *testing.T) {
	t.Parallel()

	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(anthropicStreamBody("Hel", "lo")))
	}))
	defer upstream.Close()

	adapter := NewAnthropicAdapter(anthropicTestProvider())
	adapter.baseURL = upstream.URL

	raw, err := adapter.Chat(context.Background(), &ChatRequest{Model: "claude-3-5-haiku-20241022", ChatInput: "say hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	frames := drainText(t, raw.Stream)

	if got, want := strings.Join(frames, ""), "Hello"; got != want {
		t.Fatalf("output=%q, want %q", got, want)
	}
	if gotKey != "sk-ant-configured" {
		t.Fatalf("api key=%q, want %q", gotKey, "sk-ant-configured")
	}
}

func TestAnthropicAdapterUpstreamErrorSurfacesOnRecv(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer upstream.Close()

	adapter := NewAnthropicAdapter(anthropicTestProvider())
	adapter.baseURL = upstream.URL

	raw, err := adapter.Chat(context.Background(), &ChatRequest{APIKey: "sk-bad", Model: "claude-3-5-haiku-20241022", ChatInput: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	_, err = raw.Stream.Recv()
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("err=%v, want UpstreamError", err)
	}
	if upstreamErr.Kind != UpstreamKindAuth {
		t.Fatalf("kind=%q, want %q", upstreamErr.Kind, UpstreamKindAuth)
	}
}

func TestAnthropicAdapterMissingCredentials(t *testing.T) {
	t.Parallel()

	provider := anthropicTestProvider()
	provider.Keys = []string{"   "}
	adapter := NewAnthropicAdapter(provider)

	_, err := adapter.Chat(context.Background(), &ChatRequest{Model: "claude-3-5-haiku-20241022", ChatInput: "hi"})
	var credErr *MissingCredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("err=%v, want MissingCredentialsError", err)
	}
}
