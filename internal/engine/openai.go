package engine

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/modelgate/gateway/internal/config"
)

// OpenAIAdapter drives the OpenAI chat completions API through the official
// wire protocol, always in streaming form; the framer decides the external
// shape.
type OpenAIAdapter struct {
	provider config.ProviderConfig

	// baseURL overrides the API endpoint, used by tests and proxies.
	baseURL string
}

func NewOpenAIAdapter(provider config.ProviderConfig) *OpenAIAdapter {
	return &OpenAIAdapter{provider: provider}
}

func (a *OpenAIAdapter) Name() string {
	return a.provider.ID
}

func (a *OpenAIAdapter) ValidateModel(model string) (config.ModelConfig, error) {
	return validateModel(a.provider, model)
}

func (a *OpenAIAdapter) Chat(ctx context.Context, req *ChatRequest) (*RawOutput, error) {
	key, err := resolveKey(a.provider, req)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(key)
	if a.baseURL != "" {
		clientCfg.BaseURL = a.baseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.ChatInput},
		},
		Stream: true,
	}
	if temperature, ok := paramFloat(req.Parameters, "temperature"); ok {
		chatReq.Temperature = float32(temperature)
	}
	if topP, ok := paramFloat(req.Parameters, "top_p"); ok {
		chatReq.TopP = float32(topP)
	}
	if maxTokens, ok := paramInt(req.Parameters, "max_tokens"); ok {
		chatReq.MaxTokens = maxTokens
	}
	if frequencyPenalty, ok := paramFloat(req.Parameters, "frequency_penalty"); ok {
		chatReq.FrequencyPenalty = float32(frequencyPenalty)
	}
	if presencePenalty, ok := paramFloat(req.Parameters, "presence_penalty"); ok {
		chatReq.PresencePenalty = float32(presencePenalty)
	}

	start := time.Now()
	upstream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, a.wrapErr(req.Model, err)
	}

	stream := &funcStream{close: upstream.Close}
	stream.recv = func() (Chunk, error) {
		for {
			resp, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				return Chunk{}, io.EOF
			}
			if err != nil {
				return Chunk{}, a.wrapErr(req.Model, err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				// Role preludes and finish markers carry no text.
				continue
			}
			return Chunk{Text: delta, At: time.Now()}, nil
		}
	}

	return &RawOutput{Start: start, Stream: stream}, nil
}

func (a *OpenAIAdapter) wrapErr(model string, err error) error {
	status := 0
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	return newUpstreamError(a.provider.ID, model, status, err)
}
