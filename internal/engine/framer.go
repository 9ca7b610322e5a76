package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/tokenizer"
)

// EndToken is the sentinel leading the in-band terminator frame.
const EndToken = "<END_TOKEN>"

// Framer turns an adapter's raw chunk sequence into the externally observable
// response shape. One Framer per provider; it carries no per-request state.
type Framer struct {
	providerID string
	counter    tokenizer.Strategy
}

func NewFramer(providerID string, counter tokenizer.Strategy) *Framer {
	return &Framer{providerID: providerID, counter: counter}
}

// accumulator gathers output text and timing samples as chunks pass through.
// All state is local to one request.
type accumulator struct {
	output     strings.Builder
	firstAt    time.Time
	lastAt     time.Time
	gaps       []time.Duration
	chunkCount int
}

func (a *accumulator) observe(chunk Chunk) {
	if a.chunkCount == 0 {
		a.firstAt = chunk.At
	} else {
		a.gaps = append(a.gaps, chunk.At.Sub(a.lastAt))
	}
	a.lastAt = chunk.At
	a.chunkCount++
	a.output.WriteString(chunk.Text)
}

// Stream returns the streaming-mode view: each upstream chunk is emitted as
// it arrives, and after the last chunk an optional terminator frame carries
// the usage and metrics accounting in band.
func (f *Framer) Stream(req *ChatRequest, model config.ModelConfig, raw *RawOutput) Stream {
	acc := &accumulator{}
	terminatorSent := false

	var stream *funcStream
	stream = &funcStream{
		close: raw.Stream.Close,
		recv: func() (Chunk, error) {
			chunk, err := raw.Stream.Recv()
			if err == nil {
				acc.observe(chunk)
				return chunk, nil
			}
			if !errors.Is(err, io.EOF) {
				_ = stream.Close()
				return Chunk{}, err
			}

			if !req.HasEndToken || terminatorSent {
				_ = stream.Close()
				return Chunk{}, io.EOF
			}
			terminatorSent = true
			end := time.Now()
			firstAt := acc.firstAt
			if acc.chunkCount == 0 {
				// Empty output is valid; time-to-first-token degenerates to
				// the total latency.
				firstAt = end
			}
			usage := ComputeUsage(req.ChatInput, acc.output.String(), model, f.counter)
			// The terminator must always be emittable: metric errors collapse
			// to the documented zero sentinel here, and only here.
			metrics, _ := ComputeMetrics(raw.Start, end, firstAt, acc.gaps, usage.OutputTokens)
			return Chunk{Text: terminatorFrame(usage, metrics), At: end}, nil
		},
	}
	return stream
}

// Collect returns the non-streaming view: the chunk sequence is fully drained
// before anything is visible to the caller, then one complete ChatResponse is
// built. Metric computation failures are surfaced, never papered over.
func (f *Framer) Collect(req *ChatRequest, model config.ModelConfig, raw *RawOutput) (*ChatResponse, error) {
	defer func() { _ = raw.Stream.Close() }()

	acc := &accumulator{}
	for {
		chunk, err := raw.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		acc.observe(chunk)
	}
	end := time.Now()

	usage := ComputeUsage(req.ChatInput, acc.output.String(), model, f.counter)
	metrics, err := ComputeMetrics(raw.Start, end, acc.firstAt, acc.gaps, usage.OutputTokens)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		ID:         uuid.NewString(),
		ChatInput:  req.ChatInput,
		ChatOutput: acc.output.String(),
		Timestamp:  end.UTC(),
		Provider:   f.providerID,
		Model:      req.Model,
		Usage:      usage,
		Metrics:    metrics,
		Parameters: req.Parameters,
	}, nil
}

func terminatorFrame(usage UsageRecord, metrics MetricsRecord) string {
	return fmt.Sprintf(
		"%s,input_tokens=%d,output_tokens=%d,cost=%g,latency=%.5f,time_to_first_token=%.5f,inter_token_latency=%.5f,tokens_per_second=%.2f",
		EndToken,
		usage.InputTokens,
		usage.OutputTokens,
		usage.Cost,
		metrics.Latency,
		metrics.TimeToFirstToken,
		metrics.InterTokenLatency,
		metrics.TokensPerSecond,
	)
}
