package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

// countingStore records backend hits so tests can observe cache behavior.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	c.gets++
	return c.Store.GetAssistant(ctx, id)
}

func TestCachedReadThrough(t *testing.T) {
	backend := &countingStore{Store: NewMemory()}
	cached := NewCached(backend)
	ctx := context.Background()

	a := &models.Assistant{
		ID:     models.NewID(models.PrefixAssistant),
		Object: models.ObjectAssistant,
		Model:  "openai/gpt-4o",
	}
	if err := cached.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}

	// Create filled the cache, so reads never touch the backend.
	for i := 0; i < 3; i++ {
		if _, err := cached.GetAssistant(ctx, a.ID); err != nil {
			t.Fatalf("GetAssistant() error = %v", err)
		}
	}
	if backend.gets != 0 {
		t.Fatalf("backend gets = %d, want 0", backend.gets)
	}
}

func TestCachedDeleteInvalidates(t *testing.T) {
	backend := &countingStore{Store: NewMemory()}
	cached := NewCached(backend)
	ctx := context.Background()

	a := &models.Assistant{
		ID:     models.NewID(models.PrefixAssistant),
		Object: models.ObjectAssistant,
		Model:  "openai/gpt-4o",
	}
	if err := cached.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}
	if err := cached.DeleteAssistant(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAssistant() error = %v", err)
	}
	if _, err := cached.GetAssistant(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAssistant() after delete error = %v, want ErrNotFound", err)
	}
	if backend.gets != 1 {
		t.Fatalf("backend gets = %d, want 1", backend.gets)
	}
}

func TestCachedReturnsCopies(t *testing.T) {
	cached := NewCached(NewMemory())
	ctx := context.Background()

	a := &models.Assistant{
		ID:     models.NewID(models.PrefixAssistant),
		Object: models.ObjectAssistant,
		Model:  "openai/gpt-4o",
	}
	if err := cached.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}

	got, _ := cached.GetAssistant(ctx, a.ID)
	got.Model = "mutated"
	again, _ := cached.GetAssistant(ctx, a.ID)
	if again.Model != "openai/gpt-4o" {
		t.Fatalf("cache entry mutated through returned pointer: %q", again.Model)
	}
}

func TestCachedConcurrentUpdatesStayConsistent(t *testing.T) {
	backend := NewMemory()
	cached := NewCached(backend)
	ctx := context.Background()

	a := &models.Assistant{
		ID:     models.NewID(models.PrefixAssistant),
		Object: models.ObjectAssistant,
		Model:  "openai/gpt-4o",
	}
	if err := cached.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			instructions := models.NewID("instr")
			upd := *a
			upd.Instructions = &instructions
			if err := cached.UpdateAssistant(ctx, &upd); err != nil {
				t.Errorf("UpdateAssistant() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Whatever write landed last in the backend must be what the cache
	// serves.
	fromCache, err := cached.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssistant() error = %v", err)
	}
	fromBackend, err := backend.GetAssistant(ctx, a.ID)
	if err != nil {
		t.Fatalf("backend GetAssistant() error = %v", err)
	}
	if fromCache.Instructions == nil || fromBackend.Instructions == nil {
		t.Fatal("instructions not persisted")
	}
	if *fromCache.Instructions != *fromBackend.Instructions {
		t.Fatalf("cache = %q, backend = %q", *fromCache.Instructions, *fromBackend.Instructions)
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var km KeyedMutex
	var mu sync.Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("run_x")
			defer unlock()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}
