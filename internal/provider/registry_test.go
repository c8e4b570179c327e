package provider

import (
	"context"
	"testing"
)

type stubProvider struct {
	name   string
	models []string
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Models() []string { return s.models }
func (s *stubProvider) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Done: true, FinishReason: FinishStop}
	close(ch)
	return ch, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range []*stubProvider{
		{name: "openai", models: []string{"gpt-4o", "gpt-4o-mini"}},
		{name: "anthropic", models: []string{"claude-sonnet-4-5"}},
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}
	return r
}

func TestResolveByPrefix(t *testing.T) {
	r := newTestRegistry(t)
	p, model, err := r.Resolve("anthropic/claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("provider = %q, want anthropic", p.Name())
	}
	if model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, prefix not stripped", model)
	}
}

func TestResolveByCatalog(t *testing.T) {
	r := newTestRegistry(t)
	p, model, err := r.Resolve("gpt-4o-mini")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("provider = %q, want openai", p.Name())
	}
	if model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", model)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Resolve("made-up-model"); err == nil {
		t.Fatal("expected error for unknown model")
	}
	if _, _, err := r.Resolve(""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestResolveSlashInModelName(t *testing.T) {
	r := newTestRegistry(t)
	r.providers["together"] = &stubProvider{
		name:   "together",
		models: []string{"meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	}
	r.names = append(r.names, "together")

	// A slash that is part of the upstream model name, not a routing prefix.
	p, model, err := r.Resolve("meta-llama/Llama-3.3-70B-Instruct-Turbo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "together" {
		t.Errorf("provider = %q, want together", p.Name())
	}
	if model != "meta-llama/Llama-3.3-70B-Instruct-Turbo" {
		t.Errorf("model = %q, name was mangled", model)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(&stubProvider{name: "openai"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestCatalogMerged(t *testing.T) {
	r := newTestRegistry(t)
	catalog := r.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(catalog))
	}
	// Sorted by provider name: anthropic first.
	if catalog[0].OwnedBy != "anthropic" {
		t.Errorf("first entry owned by %q, want anthropic", catalog[0].OwnedBy)
	}
	if catalog[0].Object != "model" {
		t.Errorf("object = %q, want model", catalog[0].Object)
	}
}

func TestNewRegistryFailsClosed(t *testing.T) {
	_, err := NewRegistry(map[string]Spec{
		"bad": {Type: "nonexistent"},
	})
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindConfig {
		t.Errorf("error = %v, want config_error", err)
	}
}

func TestNewRegistryMissingKey(t *testing.T) {
	_, err := NewRegistry(map[string]Spec{
		"anthropic": {Type: "anthropic"},
	})
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}
