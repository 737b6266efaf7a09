package client

import (
	"strings"

	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/ai/anthropic"
	"github.com/leofalp/fissio/providers/ai/openai"
)

// ModelConfig describes one model the client can route requests to.
type ModelConfig struct {
	ID      string `json:"id" yaml:"id"`                                 // Stable id referenced by graphs and overrides
	Name    string `json:"name" yaml:"name"`                             // Display name
	Model   string `json:"model" yaml:"model"`                           // Model name sent to the provider
	APIBase string `json:"api_base,omitempty" yaml:"api_base,omitempty"` // Optional OpenAI-compatible endpoint root
}

// anthropicPrefix selects the Anthropic adapter.
const anthropicPrefix = "claude-"

// ProviderFactory builds the adapter serving a model.
type ProviderFactory func(cfg ModelConfig) (ai.Provider, error)

// DefaultProviderFactory picks the adapter by model name: "claude-" models go
// to Anthropic, everything else to the OpenAI-compatible adapter, pointed at
// APIBase when one is set (Ollama exposes "<host>/v1").
func DefaultProviderFactory(cfg ModelConfig) (ai.Provider, error) {
	if IsAnthropicModel(cfg.Model) {
		if cfg.APIBase != "" {
			return anthropic.New(anthropic.WithBaseURL(cfg.APIBase)), nil
		}
		return anthropic.New(), nil
	}
	if cfg.APIBase != "" {
		return openai.New(openai.WithBaseURL(cfg.APIBase)), nil
	}
	return openai.New(), nil
}

// IsAnthropicModel reports whether model is served by the Anthropic adapter.
func IsAnthropicModel(model string) bool {
	return strings.HasPrefix(model, anthropicPrefix)
}

// Resolver maps model ids to configurations with a default fallback.
// It is immutable once built and safe for concurrent use.
type Resolver struct {
	models       map[string]ModelConfig
	order        []string
	defaultModel string
}

// NewResolver indexes models by id. The last definition of a duplicated id
// wins; order of first appearance is kept for listing.
func NewResolver(defaultModel string, models ...ModelConfig) *Resolver {
	r := &Resolver{
		models:       make(map[string]ModelConfig, len(models)),
		defaultModel: defaultModel,
	}
	for _, m := range models {
		if _, seen := r.models[m.ID]; !seen {
			r.order = append(r.order, m.ID)
		}
		r.models[m.ID] = m
	}
	if r.defaultModel == "" && len(r.order) > 0 {
		r.defaultModel = r.order[0]
	}
	return r
}

// Resolve returns the configuration for id. Empty or unknown ids resolve to
// the default model. ok is false only when the default itself is unknown.
func (r *Resolver) Resolve(id string) (ModelConfig, bool) {
	if m, found := r.models[id]; found {
		return m, true
	}
	m, found := r.models[r.defaultModel]
	return m, found
}

// Default returns the default model id.
func (r *Resolver) Default() string {
	return r.defaultModel
}

// Models returns the configured models in declaration order.
func (r *Resolver) Models() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// with returns a copy of r extended with models.
func (r *Resolver) with(models ...ModelConfig) *Resolver {
	all := r.Models()
	all = append(all, models...)
	return NewResolver(r.defaultModel, all...)
}
