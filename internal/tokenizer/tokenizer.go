// Package tokenizer resolves a provider identifier to the token-counting
// strategy that vendor uses for billing. Strategies are process-wide
// singletons and are safe for concurrent use once initialized.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Strategy maps a text string to a count of model-specific tokens.
type Strategy interface {
	Count(text string) int
}

const defaultEncoding = "cl100k_base"

// bpeStrategy counts with a tiktoken BPE encoding. Loading the vocabulary is
// deferred to first use and guarded so repeated resolution across adapter
// instances shares one initialization.
type bpeStrategy struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (s *bpeStrategy) Count(text string) int {
	s.once.Do(func() {
		enc, err := tiktoken.GetEncoding(s.encoding)
		if err != nil {
			// Vocabulary unavailable (offline start); Count falls back to the
			// heuristic estimate below.
			return
		}
		s.enc = enc
	})
	if s.enc == nil {
		return estimateTokens(text, 4.0)
	}
	return len(s.enc.Encode(text, nil, nil))
}

// heuristicStrategy approximates vendor tokenizers whose vocabularies are not
// published for Go. charsPerToken is calibrated per vendor against reported
// usage on English text.
type heuristicStrategy struct {
	charsPerToken float64
}

func (s heuristicStrategy) Count(text string) int {
	return estimateTokens(text, s.charsPerToken)
}

func estimateTokens(text string, charsPerToken float64) int {
	if text == "" {
		return 0
	}

	// Whitespace-separated words underestimate subword splits, so blend the
	// character-ratio estimate with a word count floor.
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}

	byRatio := int(float64(len(text))/charsPerToken + 0.5)
	if byRatio < words {
		byRatio = words
	}
	if byRatio < 1 {
		byRatio = 1
	}
	return byRatio
}

var (
	strategyMu sync.Mutex
	strategies = map[string]Strategy{}
)

// ForProvider returns the counting strategy for the given provider
// identifier. Unrecognized identifiers share the default BPE strategy.
func ForProvider(providerID string) Strategy {
	family := strings.ToLower(strings.TrimSpace(providerID))
	switch family {
	case "anthropic", "cohere":
	default:
		family = "default"
	}

	strategyMu.Lock()
	defer strategyMu.Unlock()

	if strategy, ok := strategies[family]; ok {
		return strategy
	}

	var strategy Strategy
	switch family {
	case "anthropic":
		strategy = heuristicStrategy{charsPerToken: 3.5}
	case "cohere":
		strategy = heuristicStrategy{charsPerToken: 4.2}
	default:
		strategy = &bpeStrategy{encoding: defaultEncoding}
	}
	strategies[family] = strategy
	return strategy
}
