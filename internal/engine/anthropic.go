package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelgate/gateway/internal/config"
)

// Anthropic requires max_tokens on every request; used when the caller's
// parameter bag does not set one.
const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter drives the Anthropic messages API over its native SSE
// stream.
type AnthropicAdapter struct {
	provider config.ProviderConfig
	baseURL  string
}

func NewAnthropicAdapter(provider config.ProviderConfig) *AnthropicAdapter {
	return &AnthropicAdapter{provider: provider}
}

func (a *AnthropicAdapter) Name() string {
	return a.provider.ID
}

func (a *AnthropicAdapter) ValidateModel(model string) (config.ModelConfig, error) {
	return validateModel(a.provider, model)
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req *ChatRequest) (*RawOutput, error) {
	key, err := resolveKey(a.provider, req)
	if err != nil {
		return nil, err
	}

	options := []option.RequestOption{option.WithAPIKey(key)}
	if a.baseURL != "" {
		options = append(options, option.WithBaseURL(a.baseURL))
	}
	client := anthropic.NewClient(options...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.ChatInput)),
		},
	}
	if maxTokens, ok := paramInt(req.Parameters, "max_tokens"); ok {
		params.MaxTokens = int64(maxTokens)
	}
	if temperature, ok := paramFloat(req.Parameters, "temperature"); ok {
		params.Temperature = anthropic.Float(temperature)
	}
	if topP, ok := paramFloat(req.Parameters, "top_p"); ok {
		params.TopP = anthropic.Float(topP)
	}

	start := time.Now()
	upstream := client.Messages.NewStreaming(ctx, params)

	stream := &funcStream{close: upstream.Close}
	stream.recv = func() (Chunk, error) {
		for upstream.Next() {
			event := upstream.Current()
			deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
			if !ok || textDelta.Text == "" {
				continue
			}
			return Chunk{Text: textDelta.Text, At: time.Now()}, nil
		}
		if err := upstream.Err(); err != nil {
			return Chunk{}, a.wrapErr(req.Model, err)
		}
		return Chunk{}, io.EOF
	}

	// The SDK reports request construction and auth failures through the
	// stream's first Next/Err rather than a constructor error; probe nothing
	// here so the first Recv surfaces them.
	return &RawOutput{Start: start, Stream: stream}, nil
}

func (a *AnthropicAdapter) wrapErr(model string, err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return newUpstreamError(a.provider.ID, model, status, err)
}
