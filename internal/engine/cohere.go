package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelgate/gateway/internal/config"
)

const cohereDefaultBaseURL = "https://api.cohere.com"

// CohereAdapter drives the Cohere chat API. Cohere is consumed as a batch
// backend: one complete response, synthesized into a single-chunk stream with
// total latency as the degenerate timing sample.
type CohereAdapter struct {
	provider   config.ProviderConfig
	baseURL    string
	httpClient *http.Client
}

func NewCohereAdapter(provider config.ProviderConfig) *CohereAdapter {
	return &CohereAdapter{
		provider:   provider,
		baseURL:    cohereDefaultBaseURL,
		httpClient: http.DefaultClient,
	}
}

func (a *CohereAdapter) Name() string {
	return a.provider.ID
}

func (a *CohereAdapter) ValidateModel(model string) (config.ModelConfig, error) {
	return validateModel(a.provider, model)
}

type cohereChatRequest struct {
	Model       string   `json:"model"`
	Message     string   `json:"message"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	P           *float64 `json:"p,omitempty"`
}

type cohereChatResponse struct {
	Text string `json:"text"`
}

func (a *CohereAdapter) Chat(ctx context.Context, req *ChatRequest) (*RawOutput, error) {
	key, err := resolveKey(a.provider, req)
	if err != nil {
		return nil, err
	}

	chatReq := cohereChatRequest{
		Model:   req.Model,
		Message: req.ChatInput,
	}
	if temperature, ok := paramFloat(req.Parameters, "temperature"); ok {
		chatReq.Temperature = &temperature
	}
	if maxTokens, ok := paramInt(req.Parameters, "max_tokens"); ok {
		chatReq.MaxTokens = &maxTokens
	}
	if topP, ok := paramFloat(req.Parameters, "p"); ok {
		chatReq.P = &topP
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("encode cohere request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cohere request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.wrapErr(req.Model, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, a.wrapErr(req.Model, resp.StatusCode, fmt.Errorf("cohere api error: %s", string(respBody)))
	}

	var chatResp cohereChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &UpstreamError{
			Provider: a.provider.ID,
			Model:    req.Model,
			Status:   resp.StatusCode,
			Kind:     UpstreamKindMalformed,
			Err:      err,
		}
	}

	return &RawOutput{Start: start, Stream: singleChunk(chatResp.Text, time.Now())}, nil
}

func (a *CohereAdapter) wrapErr(model string, status int, err error) error {
	return newUpstreamError(a.provider.ID, model, status, err)
}
