package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/tokenizer"
)

// ComputeUsage tokenizes both sides of an exchange with the provider's
// counting strategy and prices them with the model's per-token costs.
// Deterministic; the model config is validated upstream.
func ComputeUsage(inputText, outputText string, model config.ModelConfig, counter tokenizer.Strategy) UsageRecord {
	inputTokens := counter.Count(inputText)
	outputTokens := counter.Count(outputText)

	return UsageRecord{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		Cost:         float64(inputTokens)*model.InputTokenCost + float64(outputTokens)*model.OutputTokenCost,
	}
}

// ComputeMetrics derives latency statistics from raw timing samples.
//
// A request whose output arrived as zero or one chunk has no inter-token
// gaps; that fails with ErrInsufficientData. Zero total latency makes
// throughput undefined and fails with ErrDivisionByZero. In both cases the
// returned record still carries every field that was computable, so the
// framer can build a terminator frame with defined sentinels; callers
// delivering a MetricsRecord in a response must propagate the error instead.
func ComputeMetrics(start, end, firstToken time.Time, gaps []time.Duration, outputTokens int) (MetricsRecord, error) {
	metrics := MetricsRecord{
		Latency:          end.Sub(start).Seconds(),
		TimeToFirstToken: firstToken.Sub(start).Seconds(),
	}

	var errs []error
	if len(gaps) == 0 {
		errs = append(errs, fmt.Errorf("inter-token latency over %d samples: %w", len(gaps), ErrInsufficientData))
	} else {
		var total time.Duration
		for _, gap := range gaps {
			total += gap
		}
		metrics.InterTokenLatency = total.Seconds() / float64(len(gaps))
	}

	if metrics.Latency <= 0 {
		errs = append(errs, fmt.Errorf("throughput over %gs latency: %w", metrics.Latency, ErrDivisionByZero))
	} else {
		metrics.TokensPerSecond = float64(outputTokens) / metrics.Latency
	}

	return metrics, errors.Join(errs...)
}
