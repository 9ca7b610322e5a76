package engine

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/modelgate/gateway/internal/config"
)

// GeminiAdapter drives the Gemini API through its streaming generate-content
// call.
type GeminiAdapter struct {
	provider config.ProviderConfig
	baseURL  string
}

func NewGeminiAdapter(provider config.ProviderConfig) *GeminiAdapter {
	return &GeminiAdapter{provider: provider}
}

func (a *GeminiAdapter) Name() string {
	return a.provider.ID
}

func (a *GeminiAdapter) ValidateModel(model string) (config.ModelConfig, error) {
	return validateModel(a.provider, model)
}

func (a *GeminiAdapter) Chat(ctx context.Context, req *ChatRequest) (*RawOutput, error) {
	key, err := resolveKey(a.provider, req)
	if err != nil {
		return nil, err
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if a.baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: a.baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, a.wrapErr(req.Model, err)
	}

	generateCfg := &genai.GenerateContentConfig{}
	if temperature, ok := paramFloat(req.Parameters, "temperature"); ok {
		generateCfg.Temperature = genai.Ptr(float32(temperature))
	}
	if topP, ok := paramFloat(req.Parameters, "top_p"); ok {
		generateCfg.TopP = genai.Ptr(float32(topP))
	}
	if maxTokens, ok := paramInt(req.Parameters, "max_tokens"); ok {
		generateCfg.MaxOutputTokens = int32(maxTokens)
	}

	start := time.Now()
	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.ChatInput), generateCfg))

	// A streamed response can split one message across responses and parts;
	// pending holds text already received but not yet pulled by the caller.
	var pending []string
	stream := &funcStream{
		close: func() error {
			stop()
			return nil
		},
	}
	stream.recv = func() (Chunk, error) {
		for {
			if len(pending) > 0 {
				text := pending[0]
				pending = pending[1:]
				return Chunk{Text: text, At: time.Now()}, nil
			}

			resp, err, ok := next()
			if !ok {
				return Chunk{}, io.EOF
			}
			if err != nil {
				stop()
				return Chunk{}, a.wrapErr(req.Model, err)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					pending = append(pending, part.Text)
				}
			}
		}
	}

	return &RawOutput{Start: start, Stream: stream}, nil
}

func (a *GeminiAdapter) wrapErr(model string, err error) error {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	return newUpstreamError(a.provider.ID, model, status, err)
}
