// Package tracking persists completed chat exchanges. The engine core does
// not depend on writes succeeding; the store is fed through an asynchronous
// writer and failures only surface in logs and metrics.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelgate/gateway/internal/engine"
)

var ErrNotFound = errors.New("tracking log not found")

// Log is one persisted chat exchange, flattened from a ChatResponse.
type Log struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	ChatInput         string    `json:"chat_input"`
	ChatOutput        string    `json:"chat_output"`
	InputTokens       int       `json:"input_tokens"`
	OutputTokens      int       `json:"output_tokens"`
	TotalTokens       int       `json:"total_tokens"`
	Cost              float64   `json:"cost"`
	Latency           float64   `json:"latency"`
	TimeToFirstToken  float64   `json:"time_to_first_token"`
	InterTokenLatency float64   `json:"inter_token_latency"`
	TokensPerSecond   float64   `json:"tokens_per_second"`
	Parameters        string    `json:"parameters,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// FromResponse flattens a completed ChatResponse into a Log row.
func FromResponse(resp *engine.ChatResponse) *Log {
	parameters := ""
	if len(resp.Parameters) > 0 {
		if encoded, err := json.Marshal(resp.Parameters); err == nil {
			parameters = string(encoded)
		}
	}

	return &Log{
		ID:                resp.ID,
		Timestamp:         resp.Timestamp,
		Provider:          resp.Provider,
		Model:             resp.Model,
		ChatInput:         resp.ChatInput,
		ChatOutput:        resp.ChatOutput,
		InputTokens:       resp.Usage.InputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		TotalTokens:       resp.Usage.TotalTokens,
		Cost:              resp.Usage.Cost,
		Latency:           resp.Metrics.Latency,
		TimeToFirstToken:  resp.Metrics.TimeToFirstToken,
		InterTokenLatency: resp.Metrics.InterTokenLatency,
		TokensPerSecond:   resp.Metrics.TokensPerSecond,
		Parameters:        parameters,
	}
}

// LogFilter narrows ListLogs results. Zero values match everything.
type LogFilter struct {
	Provider string
	Model    string
	Limit    int
	Offset   int
}

type Store interface {
	WriteLog(ctx context.Context, log *Log) error
	GetLog(ctx context.Context, id string) (*Log, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]*Log, error)
	Close() error
}
