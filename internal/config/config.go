package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig              `yaml:"server"`
	Upstream      UpstreamConfig            `yaml:"upstream"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Tracking      TrackingConfig            `yaml:"tracking"`
	Observability ObservabilityConfig       `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamConfig bounds every provider call made on behalf of a request.
type UpstreamConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ProviderConfig describes one upstream vendor: its capabilities, configured
// API keys, and the models callers may request. Loaded once at startup and
// read-only afterwards.
type ProviderConfig struct {
	ID     string                 `yaml:"id"`
	Name   string                 `yaml:"name"`
	Chat   bool                   `yaml:"chat"`
	Embed  bool                   `yaml:"embed"`
	Keys   []string               `yaml:"keys"`
	Models map[string]ModelConfig `yaml:"models"`
}

// FirstKey returns the first non-blank configured API key, if any.
func (p ProviderConfig) FirstKey() (string, bool) {
	for _, key := range p.Keys {
		if strings.TrimSpace(key) != "" {
			return key, true
		}
	}
	return "", false
}

// ModelNames returns the configured model identifiers in sorted order.
func (p ProviderConfig) ModelNames() []string {
	names := make([]string, 0, len(p.Models))
	for name := range p.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ModelConfig struct {
	Mode            string  `yaml:"mode"`
	MaxTokens       int     `yaml:"max_tokens"`
	InputTokenCost  float64 `yaml:"input_token_cost"`
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

type TrackingConfig struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	DSN        string `yaml:"dsn"`
	BufferSize int    `yaml:"buffer_size"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"`
	Insecure        bool    `yaml:"insecure"`
	ServiceName     string  `yaml:"service_name"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	SamplingRatio   float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS int     `yaml:"export_timeout_ms"`
}

const (
	defaultUpstreamTimeoutMS = 120000
	defaultOTELEndpoint      = "localhost:4318"
	defaultOTELServiceName   = "modelgate-gateway"
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Upstream: UpstreamConfig{
			TimeoutMS: defaultUpstreamTimeoutMS,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				ID:   "openai",
				Name: "OpenAI",
				Chat: true,
				Models: map[string]ModelConfig{
					"gpt-4o":        {Mode: "chat", MaxTokens: 128000, InputTokenCost: 0.0000025, OutputTokenCost: 0.00001},
					"gpt-4o-mini":   {Mode: "chat", MaxTokens: 128000, InputTokenCost: 0.00000015, OutputTokenCost: 0.0000006},
					"gpt-3.5-turbo": {Mode: "chat", MaxTokens: 16385, InputTokenCost: 0.0000005, OutputTokenCost: 0.0000015},
				},
			},
			"anthropic": {
				ID:   "anthropic",
				Name: "Anthropic",
				Chat: true,
				Models: map[string]ModelConfig{
					"claude-sonnet-4-20250514":  {Mode: "chat", MaxTokens: 200000, InputTokenCost: 0.000003, OutputTokenCost: 0.000015},
					"claude-3-5-haiku-20241022": {Mode: "chat", MaxTokens: 200000, InputTokenCost: 0.0000008, OutputTokenCost: 0.000004},
				},
			},
			"gemini": {
				ID:   "gemini",
				Name: "Gemini",
				Chat: true,
				Models: map[string]ModelConfig{
					"gemini-2.0-flash": {Mode: "chat", MaxTokens: 1048576, InputTokenCost: 0.0000001, OutputTokenCost: 0.0000004},
				},
			},
			"cohere": {
				ID:   "cohere",
				Name: "Cohere",
				Chat: true,
				Models: map[string]ModelConfig{
					"command-r": {Mode: "chat", MaxTokens: 128000, InputTokenCost: 0.00000015, OutputTokenCost: 0.0000006},
				},
			},
		},
		Tracking: TrackingConfig{
			Driver:     "sqlite",
			Path:       "./data/modelgate.db",
			BufferSize: 256,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:         false,
				Endpoint:        defaultOTELEndpoint,
				Insecure:        true,
				ServiceName:     defaultOTELServiceName,
				TracesEnabled:   true,
				MetricsEnabled:  true,
				SamplingRatio:   1.0,
				ExportTimeoutMS: 3000,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}
	if cfg.Upstream.TimeoutMS <= 0 {
		return fmt.Errorf("upstream.timeout_ms must be > 0 (got %d)", cfg.Upstream.TimeoutMS)
	}

	if len(cfg.Providers) == 0 {
		return errors.New("providers must configure at least one provider")
	}
	for key, provider := range cfg.Providers {
		if err := validateProvider(key, provider); err != nil {
			return err
		}
	}

	driver := strings.TrimSpace(cfg.Tracking.Driver)
	switch driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Tracking.Path) == "" {
			return errors.New("tracking.path is required when tracking.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Tracking.DSN) == "" {
			return errors.New("tracking.dsn is required when tracking.driver=postgres")
		}
	case "none":
	default:
		return fmt.Errorf("tracking.driver must be one of sqlite, postgres, none (got %q)", cfg.Tracking.Driver)
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

func validateProvider(key string, provider ProviderConfig) error {
	name := "providers." + key
	if strings.TrimSpace(provider.ID) == "" {
		return fmt.Errorf("%s.id is required", name)
	}
	if provider.ID != key {
		return fmt.Errorf("%s.id must match the map key (got %q)", name, provider.ID)
	}
	if strings.TrimSpace(provider.Name) == "" {
		return fmt.Errorf("%s.name is required", name)
	}
	if !provider.Chat && !provider.Embed {
		return fmt.Errorf("%s must enable chat and/or embed", name)
	}
	if provider.Chat && len(provider.Models) == 0 {
		return fmt.Errorf("%s.models must not be empty when chat is enabled", name)
	}
	for modelName, model := range provider.Models {
		modelPath := fmt.Sprintf("%s.models.%s", name, modelName)
		if strings.TrimSpace(model.Mode) == "" {
			return fmt.Errorf("%s.mode is required", modelPath)
		}
		if model.MaxTokens <= 0 {
			return fmt.Errorf("%s.max_tokens must be > 0 (got %d)", modelPath, model.MaxTokens)
		}
		if model.InputTokenCost < 0 {
			return fmt.Errorf("%s.input_token_cost must not be negative (got %g)", modelPath, model.InputTokenCost)
		}
		if model.OutputTokenCost < 0 {
			return fmt.Errorf("%s.output_token_cost must not be negative (got %g)", modelPath, model.OutputTokenCost)
		}
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	return nil
}

// providerKeyEnvVars maps provider identifiers to the conventional vendor
// environment variable carrying an API key.
var providerKeyEnvVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"cohere":    "COHERE_API_KEY",
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("MODELGATE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("MODELGATE_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid MODELGATE_PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if timeout := os.Getenv("MODELGATE_UPSTREAM_TIMEOUT_MS"); timeout != "" {
		v, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid MODELGATE_UPSTREAM_TIMEOUT_MS: %w", err)
		}
		cfg.Upstream.TimeoutMS = v
	}

	if driver := os.Getenv("MODELGATE_TRACKING_DRIVER"); driver != "" {
		cfg.Tracking.Driver = driver
	}
	if path := os.Getenv("MODELGATE_TRACKING_PATH"); path != "" {
		cfg.Tracking.Path = path
	}
	if dsn := os.Getenv("MODELGATE_TRACKING_DSN"); dsn != "" {
		cfg.Tracking.DSN = dsn
	}

	// Vendor API keys from the environment are appended after configured keys
	// so file-configured keys keep precedence.
	for providerID, envVar := range providerKeyEnvVars {
		key := strings.TrimSpace(os.Getenv(envVar))
		if key == "" {
			continue
		}
		provider, ok := cfg.Providers[providerID]
		if !ok {
			continue
		}
		provider.Keys = append(provider.Keys, key)
		cfg.Providers[providerID] = provider
	}

	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		cfg.Observability.OTel.Enabled = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
	}

	return nil
}
