// Package engine implements the provider-agnostic chat core: the adapter
// contract each backend satisfies, token and latency accounting, the
// streaming response framer, and the dispatcher the HTTP layer calls.
package engine

import "time"

// ChatRequest is one inbound chat call. Immutable once constructed; the
// parameter bag is provider-specific and echoed back verbatim.
type ChatRequest struct {
	APIKey      string         `json:"api_key,omitempty"`
	Model       string         `json:"model"`
	ChatInput   string         `json:"chat_input"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	IsStream    bool           `json:"is_stream,omitempty"`
	HasEndToken bool           `json:"has_end_token,omitempty"`
}

// UsageRecord is the token and cost accounting for one completed request.
type UsageRecord struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// MetricsRecord carries latency statistics in seconds.
type MetricsRecord struct {
	Latency           float64 `json:"latency"`
	TimeToFirstToken  float64 `json:"time_to_first_token"`
	InterTokenLatency float64 `json:"inter_token_latency"`
	TokensPerSecond   float64 `json:"tokens_per_second"`
}

// ChatResponse is the terminal artifact of a request. Constructed fresh per
// request and handed to the caller; the core keeps no copy.
type ChatResponse struct {
	ID         string         `json:"id"`
	ChatInput  string         `json:"chat_input"`
	ChatOutput string         `json:"chat_output"`
	Timestamp  time.Time      `json:"timestamp"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Usage      UsageRecord    `json:"usage"`
	Metrics    MetricsRecord  `json:"metrics"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
