package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/tokenizer"
)

// AdapterFactory builds the adapter variant for one provider configuration.
type AdapterFactory func(provider config.ProviderConfig) Adapter

// adapterFactories is the closed registry of backend variants, keyed by
// provider identifier. Dispatch is an exact-match lookup; nothing is
// instantiated by name at runtime.
var adapterFactories = map[string]AdapterFactory{
	"openai":    func(p config.ProviderConfig) Adapter { return NewOpenAIAdapter(p) },
	"anthropic": func(p config.ProviderConfig) Adapter { return NewAnthropicAdapter(p) },
	"gemini":    func(p config.ProviderConfig) Adapter { return NewGeminiAdapter(p) },
	"cohere":    func(p config.ProviderConfig) Adapter { return NewCohereAdapter(p) },
}

// Engine is the dispatcher between the HTTP layer and the provider adapters.
// It holds only read-only state and is safe for unlimited request-level
// parallelism.
type Engine struct {
	providers map[string]config.ProviderConfig
	adapters  map[string]Adapter
	framers   map[string]*Framer
	timeout   time.Duration
	logger    *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		providers: cfg.Providers,
		adapters:  make(map[string]Adapter),
		framers:   make(map[string]*Framer),
		timeout:   cfg.Upstream.Timeout(),
		logger:    logger,
	}

	for id, provider := range cfg.Providers {
		if !provider.Chat {
			continue
		}
		factory, ok := adapterFactories[id]
		if !ok {
			logger.Warn("no adapter registered for configured provider", "provider", id)
			continue
		}
		engine.adapters[id] = factory(provider)
		engine.framers[id] = NewFramer(id, tokenizer.ForProvider(id))
	}

	return engine
}

// Providers returns all configured provider identifiers in sorted order.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelListing is one provider's display name and model identifiers.
type ModelListing struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// Models returns the configured models per provider. An empty filter lists
// every provider that has models; a non-empty filter restricts the result to
// that provider.
func (e *Engine) Models(filter string) map[string]ModelListing {
	listings := make(map[string]ModelListing)
	for id, provider := range e.providers {
		if filter != "" && id != filter {
			continue
		}
		if len(provider.Models) == 0 {
			continue
		}
		listings[id] = ModelListing{
			Name:   provider.Name,
			Models: provider.ModelNames(),
		}
	}
	return listings
}

func (e *Engine) dispatch(providerID string) (Adapter, *Framer, error) {
	adapter, ok := e.adapters[providerID]
	if !ok {
		return nil, nil, &UnknownProviderError{Provider: providerID}
	}
	return adapter, e.framers[providerID], nil
}

// Chat runs one request to completion and returns a single ChatResponse. No
// partial output is ever visible to the caller.
func (e *Engine) Chat(ctx context.Context, providerID string, req *ChatRequest) (*ChatResponse, error) {
	adapter, framer, err := e.dispatch(providerID)
	if err != nil {
		return nil, err
	}
	modelCfg, err := adapter.ValidateModel(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := adapter.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return framer.Collect(req, modelCfg, raw)
}

// ChatStream runs one request in streaming mode: a lazy sequence of text
// frames, optionally terminated by the in-band usage/metrics marker. Closing
// the returned stream cancels the upstream call and releases its resources.
func (e *Engine) ChatStream(ctx context.Context, providerID string, req *ChatRequest) (Stream, error) {
	adapter, framer, err := e.dispatch(providerID)
	if err != nil {
		return nil, err
	}
	modelCfg, err := adapter.ValidateModel(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)

	raw, err := adapter.Chat(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	framed := framer.Stream(req, modelCfg, raw)
	stream := &funcStream{
		recv: func() (Chunk, error) {
			chunk, err := framed.Recv()
			if err != nil {
				// EOF or upstream failure: the in-flight call is done either
				// way, release its context.
				cancel()
			}
			return chunk, err
		},
		close: func() error {
			err := framed.Close()
			cancel()
			return err
		},
	}
	return stream, nil
}
