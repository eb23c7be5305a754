package provider

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ciaranashton/relay-agent/internal/config"
	"github.com/ciaranashton/relay-agent/internal/domain"
)

// Constructor creates a provider from a model config entry.
type Constructor func(mc config.ModelConfig, logger *slog.Logger) domain.Provider

// Factory maps provider names to constructors.
type Factory struct {
	logger       *slog.Logger
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(logger *slog.Logger) *Factory {
	f := &Factory{
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["anthropic"] = func(mc config.ModelConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{APIKey: mc.APIKey, APIBase: mc.BaseURL, Model: mc.Name, MaxRetries: mc.MaxRetries, Logger: logger})
	}
	f.constructors["claude"] = f.constructors["anthropic"]

	f.constructors["openai"] = func(mc config.ModelConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: mc.APIKey, APIBase: mc.BaseURL, Model: mc.Name, MaxRetries: mc.MaxRetries, Logger: logger})
	}

	// Gemini is reached through its OpenAI-compatible endpoint.
	f.constructors["google"] = func(mc config.ModelConfig, logger *slog.Logger) domain.Provider {
		base := mc.BaseURL
		if base == "" {
			base = googleAPIBase
		}
		model := mc.Name
		if model == "" {
			model = googleDefaultModel
		}
		return NewOpenAI(OpenAIConfig{Name: "google", APIKey: mc.APIKey, APIBase: base, Model: model, MaxRetries: mc.MaxRetries, Logger: logger})
	}
	f.constructors["gemini"] = f.constructors["google"]
}

// Available returns the registered provider names, sorted.
func (f *Factory) Available() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for n := range f.constructors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Build creates the provider for mc. Fallbacks are chained behind the
// primary with a FailoverProvider, and a rate limit, when configured, wraps
// the whole chain.
func (f *Factory) Build(mc config.ModelConfig) (domain.Provider, error) {
	primary, err := f.build(mc)
	if err != nil {
		return nil, err
	}

	var p domain.Provider = primary
	if len(mc.Fallbacks) > 0 {
		chain := []domain.Provider{primary}
		for i, fb := range mc.Fallbacks {
			fp, err := f.build(fb)
			if err != nil {
				return nil, fmt.Errorf("model.fallbacks[%d]: %w", i, err)
			}
			chain = append(chain, fp)
		}
		p = NewFailoverProvider(chain, f.logger)
	}

	if mc.RateLimit != nil && mc.RateLimit.PerMinute > 0 {
		p = NewRateLimited(p, NewRateLimiter(mc.RateLimit.Burst, mc.RateLimit.PerMinute))
	}
	return p, nil
}

func (f *Factory) build(mc config.ModelConfig) (domain.Provider, error) {
	name := strings.ToLower(mc.Provider)
	f.mu.RLock()
	ctor, ok := f.constructors[name]
	f.mu.RUnlock()

	if !ok {
		if mc.BaseURL != "" {
			// Unknown providers with an explicit endpoint are treated as OpenAI-compatible.
			return NewOpenAI(OpenAIConfig{Name: name, APIKey: mc.APIKey, APIBase: mc.BaseURL, Model: mc.Name, MaxRetries: mc.MaxRetries, Logger: f.logger}), nil
		}
		return nil, domain.NewConfigError("Unknown model provider: %q. Available: %s", mc.Provider, strings.Join(f.Available(), ", "))
	}
	return ctor(mc, f.logger), nil
}
