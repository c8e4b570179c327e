package provider

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// Spec declares one configured provider instance. Type selects the
// adapter; the remaining fields feed its config.
type Spec struct {
	// Type is one of: anthropic, google, bedrock, ollama, or any
	// OpenAI-compatible preset (openai, azure, mistral, groq, together,
	// deepseek, vllm).
	Type            string
	APIKey          string
	BaseURL         string
	APIVersion      string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Models          []string
	MaxRetries      int
	RetryDelay      time.Duration
}

// Registry holds the configured providers and routes model names to them.
// Model names may carry an explicit "provider/" prefix; bare names are
// resolved against the merged catalog.
type Registry struct {
	providers map[string]Provider
	names     []string
	createdAt int64
}

// NewRegistry constructs every configured provider up front. A single
// misconfigured entry fails the whole registry; a gateway that silently
// drops providers would route requests to the wrong backend.
func NewRegistry(specs map[string]Spec) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(specs)),
		createdAt: time.Now().Unix(),
	}
	for name, spec := range specs {
		p, err := buildProvider(name, spec)
		if err != nil {
			return nil, err
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider under its name.
func (r *Registry) Register(p Provider) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider name is empty")
	}
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	r.names = append(r.names, name)
	sort.Strings(r.names)
	return nil
}

// Resolve maps a model name to the provider serving it and the model ID
// to send upstream. "anthropic/claude-sonnet-4-5" routes by prefix;
// "gpt-4o" is looked up in the merged catalog.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	if model == "" {
		return nil, "", fmt.Errorf("model is required")
	}

	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		if p, found := r.providers[prefix]; found && rest != "" {
			return p, rest, nil
		}
	}

	for _, name := range r.names {
		p := r.providers[name]
		for _, id := range p.Models() {
			if id == model {
				return p, model, nil
			}
		}
	}
	return nil, "", fmt.Errorf("no provider serves model %q", model)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Catalog returns the merged model list across all providers, with each
// entry owned by the provider that serves it.
func (r *Registry) Catalog() []models.Model {
	var out []models.Model
	for _, name := range r.names {
		p := r.providers[name]
		for _, id := range p.Models() {
			out = append(out, models.Model{
				ID:      id,
				Object:  models.ObjectModel,
				Created: r.createdAt,
				OwnedBy: name,
			})
		}
	}
	return out
}

func buildProvider(name string, spec Spec) (Provider, error) {
	switch spec.Type {
	case "anthropic":
		return NewAnthropic(name, AnthropicConfig{
			APIKey:     spec.APIKey,
			BaseURL:    spec.BaseURL,
			Models:     spec.Models,
			MaxRetries: spec.MaxRetries,
			RetryDelay: spec.RetryDelay,
		})
	case "google":
		return NewGoogle(name, GoogleConfig{
			APIKey:     spec.APIKey,
			Models:     spec.Models,
			MaxRetries: spec.MaxRetries,
			RetryDelay: spec.RetryDelay,
		})
	case "bedrock":
		return NewBedrock(name, BedrockConfig{
			Region:          spec.Region,
			AccessKeyID:     spec.AccessKeyID,
			SecretAccessKey: spec.SecretAccessKey,
			Models:          spec.Models,
			MaxRetries:      spec.MaxRetries,
			RetryDelay:      spec.RetryDelay,
		})
	case "ollama":
		return NewOllama(name, OllamaConfig{
			BaseURL: spec.BaseURL,
			Models:  spec.Models,
		})
	case "openai", "azure", "mistral", "groq", "together", "deepseek", "vllm":
		return NewOpenAI(name, OpenAIConfig{
			Preset:     spec.Type,
			APIKey:     spec.APIKey,
			BaseURL:    spec.BaseURL,
			APIVersion: spec.APIVersion,
			Models:     spec.Models,
			MaxRetries: spec.MaxRetries,
			RetryDelay: spec.RetryDelay,
		})
	default:
		return nil, ConfigError(name, "unknown provider type %q", spec.Type)
	}
}
