package engine

import (
	"context"

	"github.com/modelgate/gateway/internal/config"
)

// Adapter translates between the gateway's uniform chat contract and one
// upstream vendor's API shape. Adapters are stateless beyond their
// configuration and safe for concurrent use.
type Adapter interface {
	Name() string

	// ValidateModel resolves the requested model against the provider's
	// configured model table. Must be called before any upstream I/O.
	ValidateModel(model string) (config.ModelConfig, error)

	// Chat issues the upstream call and exposes its output as a lazy chunk
	// stream, regardless of whether the vendor streams natively.
	Chat(ctx context.Context, req *ChatRequest) (*RawOutput, error)
}

func validateModel(provider config.ProviderConfig, model string) (config.ModelConfig, error) {
	modelCfg, ok := provider.Models[model]
	if !ok {
		return config.ModelConfig{}, &UnsupportedModelError{Provider: provider.ID, Model: model}
	}
	return modelCfg, nil
}

// resolveKey picks the caller-supplied key over the configured one.
func resolveKey(provider config.ProviderConfig, req *ChatRequest) (string, error) {
	if req.APIKey != "" {
		return req.APIKey, nil
	}
	if key, ok := provider.FirstKey(); ok {
		return key, nil
	}
	return "", &MissingCredentialsError{Provider: provider.ID}
}

// Parameter bag accessors. Values arrive through JSON, so numbers are
// float64 regardless of the vendor's wire type.

func paramFloat(params map[string]any, name string) (float64, bool) {
	value, ok := params[name]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func paramInt(params map[string]any, name string) (int, bool) {
	v, ok := paramFloat(params, name)
	if !ok {
		return 0, false
	}
	return int(v), true
}
