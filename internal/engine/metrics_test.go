package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/modelgate/gateway/internal/config"
)

// runeCounter is a deterministic stand-in for a real tokenization strategy.
type runeCounter struct{}

func (runeCounter) Count(text string) int {
	return len([]rune(text))
}

func TestComputeUsageCostFormula(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		output     string
		model      config.ModelConfig
		wantInput  int
		wantOutput int
		wantCost   float64
	}{
		{
			name:       "priced exchange",
			input:      "hello",
			output:     "hi!",
			model:      config.ModelConfig{InputTokenCost: 0.001, OutputTokenCost: 0.002},
			wantInput:  5,
			wantOutput: 3,
			wantCost:   5*0.001 + 3*0.002,
		},
		{
			name:       "free model",
			input:      "hello",
			output:     "hi!",
			model:      config.ModelConfig{},
			wantInput:  5,
			wantOutput: 3,
			wantCost:   0,
		},
		{
			name:     "empty output is valid",
			input:    "hello",
			output:   "",
			model:    config.ModelConfig{InputTokenCost: 0.001, OutputTokenCost: 0.002},
			wantInput: 5,
			wantCost: 5 * 0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			usage := ComputeUsage(tt.input, tt.output, tt.model, runeCounter{})

			if usage.InputTokens != tt.wantInput {
				t.Fatalf("input tokens=%d, want %d", usage.InputTokens, tt.wantInput)
			}
			if usage.OutputTokens != tt.wantOutput {
				t.Fatalf("output tokens=%d, want %d", usage.OutputTokens, tt.wantOutput)
			}
			if usage.TotalTokens != tt.wantInput+tt.wantOutput {
				t.Fatalf("total tokens=%d, want %d", usage.TotalTokens, tt.wantInput+tt.wantOutput)
			}
			if math.Abs(usage.Cost-tt.wantCost) > 1e-12 {
				t.Fatalf("cost=%g, want %g", usage.Cost, tt.wantCost)
			}
		})
	}
}

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("mean of gaps and throughput", func(t *testing.T) {
		t.Parallel()

		metrics, err := ComputeMetrics(
			start,
			start.Add(2*time.Second),
			start.Add(500*time.Millisecond),
			[]time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
			10,
		)
		if err != nil {
			t.Fatalf("compute metrics: %v", err)
		}

		if got, want := metrics.Latency, 2.0; math.Abs(got-want) > 1e-12 {
			t.Fatalf("latency=%g, want %g", got, want)
		}
		if got, want := metrics.TimeToFirstToken, 0.5; math.Abs(got-want) > 1e-12 {
			t.Fatalf("time to first token=%g, want %g", got, want)
		}
		if got, want := metrics.InterTokenLatency, 0.2; math.Abs(got-want) > 1e-12 {
			t.Fatalf("inter-token latency=%g, want %g", got, want)
		}
		if got, want := metrics.TokensPerSecond, 5.0; math.Abs(got-want) > 1e-12 {
			t.Fatalf("tokens per second=%g, want %g", got, want)
		}
	})

	t.Run("empty gaps fail with insufficient data", func(t *testing.T) {
		t.Parallel()

		metrics, err := ComputeMetrics(start, start.Add(time.Second), start.Add(time.Second), nil, 5)
		if !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("err=%v, want ErrInsufficientData", err)
		}
		// Missing gap samples only make inter-token latency undefined; the
		// record must still carry the throughput that was computable.
		if got, want := metrics.TokensPerSecond, 5.0; math.Abs(got-want) > 1e-12 {
			t.Fatalf("tokens per second=%g, want %g", got, want)
		}
	})

	t.Run("zero latency fails with division by zero", func(t *testing.T) {
		t.Parallel()

		metrics, err := ComputeMetrics(start, start, start, []time.Duration{time.Millisecond}, 5)
		if !errors.Is(err, ErrDivisionByZero) {
			t.Fatalf("err=%v, want ErrDivisionByZero", err)
		}
		if math.IsNaN(metrics.TokensPerSecond) || math.IsInf(metrics.TokensPerSecond, 0) {
			t.Fatalf("tokens per second=%g, want finite zero value", metrics.TokensPerSecond)
		}
		if got, want := metrics.InterTokenLatency, 0.001; math.Abs(got-want) > 1e-12 {
			t.Fatalf("inter-token latency=%g, want %g", got, want)
		}
	})

	t.Run("both failures joined", func(t *testing.T) {
		t.Parallel()

		_, err := ComputeMetrics(start, start, start, nil, 1)
		if !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("err=%v, want ErrInsufficientData in join", err)
		}
		if !errors.Is(err, ErrDivisionByZero) {
			t.Fatalf("err=%v, want ErrDivisionByZero in join", err)
		}
	})
}
