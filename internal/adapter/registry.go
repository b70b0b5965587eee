package adapter

import (
	"context"
	"fmt"
	"sort"
)

// ProviderConfig is the per-provider configuration an adapter is built
// from. ID selects the dialect; unknown ids fail construction.
type ProviderConfig struct {
	ID      string
	APIKey  string
	Model   string
	BaseURL string
}

// New builds an adapter for the configured provider. Adding a provider
// means adding a case here and an implementation, nothing else.
func New(ctx context.Context, cfg ProviderConfig) (Adapter, error) {
	switch cfg.ID {
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model), nil
	case "google":
		return NewGoogle(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	case "deepseek":
		return NewDeepSeek(cfg.APIKey, cfg.Model), nil
	case "qwen":
		return NewQwen(cfg.APIKey, cfg.Model), nil
	case "glm":
		return NewGLM(cfg.APIKey, cfg.Model), nil
	case "openai-compatible":
		return NewOpenAICompatible(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown provider %q", cfg.ID)}
	}
}

// Registry holds the constructed adapters, looked up by provider id.
// Built once at startup; read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs adapters for every configured provider.
// Any unknown id aborts startup.
func NewRegistry(ctx context.Context, configs []ProviderConfig) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(configs))}
	for _, cfg := range configs {
		a, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.adapters[a.ID()] = a
	}
	return r, nil
}

// Register adds a constructed adapter, replacing any existing entry
// with the same id.
func (r *Registry) Register(a Adapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	r.adapters[a.ID()] = a
}

// Get returns the adapter for a provider id.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown provider %q", id)}
	}
	return a, nil
}

// IDs lists the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
