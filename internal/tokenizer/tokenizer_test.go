package tokenizer

import (
	"sync"
	"testing"
)

func TestForProviderCachesStrategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		provider  string
		sameAs    string
	}{
		{name: "anthropic has its own strategy", provider: "anthropic", sameAs: "anthropic"},
		{name: "cohere has its own strategy", provider: "cohere", sameAs: "cohere"},
		{name: "openai shares the default", provider: "openai", sameAs: "vertexai"},
		{name: "unrecognized falls back to default", provider: "not-a-provider", sameAs: "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			first := ForProvider(tt.provider)
			second := ForProvider(tt.sameAs)
			if first != second {
				t.Fatalf("strategies for %q and %q differ, want shared instance", tt.provider, tt.sameAs)
			}
		})
	}
}

func TestForProviderDistinctFamilies(t *testing.T) {
	t.Parallel()

	if ForProvider("anthropic") == ForProvider("cohere") {
		t.Fatal("anthropic and cohere share a strategy, want distinct")
	}
	if ForProvider("anthropic") == ForProvider("openai") {
		t.Fatal("anthropic shares the default strategy, want distinct")
	}
}

func TestCountProperties(t *testing.T) {
	t.Parallel()

	for _, provider := range []string{"openai", "anthropic", "cohere"} {
		strategy := ForProvider(provider)

		if got := strategy.Count(""); got != 0 {
			t.Fatalf("%s: count of empty string=%d, want %d", provider, got, 0)
		}
		if got := strategy.Count("hello world"); got < 2 {
			t.Fatalf("%s: count of two words=%d, want >= 2", provider, got)
		}
		short := strategy.Count("hi")
		long := strategy.Count("a noticeably longer sentence with many more words in it")
		if long <= short {
			t.Fatalf("%s: longer text counted %d <= shorter text %d", provider, long, short)
		}
	}
}

func TestConcurrentFirstUseIsRaceFree(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, provider := range []string{"openai", "anthropic", "cohere", "unknown"} {
				if got := ForProvider(provider).Count("concurrent access check"); got <= 0 {
					t.Errorf("%s: count=%d, want > 0", provider, got)
				}
			}
		}()
	}
	wg.Wait()
}
