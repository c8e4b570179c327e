package store

import (
	"context"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

// Cached is a write-through read-through in-process cache over any backend.
// Single-entity reads are served from the cache after a fill; lists always
// hit the backend. File content is not cached.
//
// Writers to the same entity ID are serialized through a KeyedMutex so the
// backend write and the cache fill land as one unit. Without it two racing
// updates can interleave backend writes and fills, leaving the cache
// holding the losing value.
type Cached struct {
	Store

	mu      sync.RWMutex
	entries map[string]any
	keys    KeyedMutex
}

// NewCached wraps backend with an entity cache.
func NewCached(backend Store) *Cached {
	return &Cached{Store: backend, entries: make(map[string]any)}
}

func cacheKey(typ, id string) string { return typ + ":" + id }

func (c *Cached) put(typ, id string, v any) {
	c.mu.Lock()
	c.entries[cacheKey(typ, id)] = v
	c.mu.Unlock()
}

func (c *Cached) lookup(typ, id string) (any, bool) {
	c.mu.RLock()
	v, ok := c.entries[cacheKey(typ, id)]
	c.mu.RUnlock()
	return v, ok
}

func (c *Cached) drop(typ, id string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(typ, id))
	c.mu.Unlock()
}

func (c *Cached) CreateAssistant(ctx context.Context, a *models.Assistant) error {
	defer c.keys.Lock(cacheKey(TypeAssistant, a.ID))()
	if err := c.Store.CreateAssistant(ctx, a); err != nil {
		return err
	}
	c.put(TypeAssistant, a.ID, cloneAssistant(a))
	return nil
}

func (c *Cached) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	if v, ok := c.lookup(TypeAssistant, id); ok {
		return cloneAssistant(v.(*models.Assistant)), nil
	}
	defer c.keys.Lock(cacheKey(TypeAssistant, id))()
	a, err := c.Store.GetAssistant(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(TypeAssistant, id, cloneAssistant(a))
	return a, nil
}

func (c *Cached) UpdateAssistant(ctx context.Context, a *models.Assistant) error {
	defer c.keys.Lock(cacheKey(TypeAssistant, a.ID))()
	if err := c.Store.UpdateAssistant(ctx, a); err != nil {
		return err
	}
	c.put(TypeAssistant, a.ID, cloneAssistant(a))
	return nil
}

func (c *Cached) DeleteAssistant(ctx context.Context, id string) error {
	defer c.keys.Lock(cacheKey(TypeAssistant, id))()
	if err := c.Store.DeleteAssistant(ctx, id); err != nil {
		return err
	}
	c.drop(TypeAssistant, id)
	return nil
}

func (c *Cached) CreateThread(ctx context.Context, t *models.Thread) error {
	defer c.keys.Lock(cacheKey(TypeThread, t.ID))()
	if err := c.Store.CreateThread(ctx, t); err != nil {
		return err
	}
	c.put(TypeThread, t.ID, cloneThread(t))
	return nil
}

func (c *Cached) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if v, ok := c.lookup(TypeThread, id); ok {
		return cloneThread(v.(*models.Thread)), nil
	}
	defer c.keys.Lock(cacheKey(TypeThread, id))()
	t, err := c.Store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(TypeThread, id, cloneThread(t))
	return t, nil
}

func (c *Cached) UpdateThread(ctx context.Context, t *models.Thread) error {
	defer c.keys.Lock(cacheKey(TypeThread, t.ID))()
	if err := c.Store.UpdateThread(ctx, t); err != nil {
		return err
	}
	c.put(TypeThread, t.ID, cloneThread(t))
	return nil
}

func (c *Cached) DeleteThread(ctx context.Context, id string) error {
	defer c.keys.Lock(cacheKey(TypeThread, id))()
	if err := c.Store.DeleteThread(ctx, id); err != nil {
		return err
	}
	// Scoped messages and runs go with the thread; wipe everything rather
	// than track which cached entries belonged to it.
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.mu.Unlock()
	return nil
}

func (c *Cached) CreateMessage(ctx context.Context, m *models.Message) error {
	defer c.keys.Lock(cacheKey(TypeMessage, m.ID))()
	if err := c.Store.CreateMessage(ctx, m); err != nil {
		return err
	}
	c.put(TypeMessage, m.ID, cloneMessage(m))
	return nil
}

func (c *Cached) GetMessage(ctx context.Context, threadID, id string) (*models.Message, error) {
	if v, ok := c.lookup(TypeMessage, id); ok {
		m := v.(*models.Message)
		if m.ThreadID != threadID {
			return nil, ErrNotFound
		}
		return cloneMessage(m), nil
	}
	defer c.keys.Lock(cacheKey(TypeMessage, id))()
	m, err := c.Store.GetMessage(ctx, threadID, id)
	if err != nil {
		return nil, err
	}
	c.put(TypeMessage, id, cloneMessage(m))
	return m, nil
}

func (c *Cached) UpdateMessage(ctx context.Context, m *models.Message) error {
	defer c.keys.Lock(cacheKey(TypeMessage, m.ID))()
	if err := c.Store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	c.put(TypeMessage, m.ID, cloneMessage(m))
	return nil
}

func (c *Cached) DeleteMessage(ctx context.Context, threadID, id string) error {
	defer c.keys.Lock(cacheKey(TypeMessage, id))()
	if err := c.Store.DeleteMessage(ctx, threadID, id); err != nil {
		return err
	}
	c.drop(TypeMessage, id)
	return nil
}

func (c *Cached) CreateRun(ctx context.Context, r *models.Run) error {
	defer c.keys.Lock(cacheKey(TypeRun, r.ID))()
	if err := c.Store.CreateRun(ctx, r); err != nil {
		return err
	}
	c.put(TypeRun, r.ID, cloneRun(r))
	return nil
}

func (c *Cached) GetRun(ctx context.Context, threadID, id string) (*models.Run, error) {
	if v, ok := c.lookup(TypeRun, id); ok {
		r := v.(*models.Run)
		if r.ThreadID != threadID {
			return nil, ErrNotFound
		}
		return cloneRun(r), nil
	}
	defer c.keys.Lock(cacheKey(TypeRun, id))()
	r, err := c.Store.GetRun(ctx, threadID, id)
	if err != nil {
		return nil, err
	}
	c.put(TypeRun, id, cloneRun(r))
	return r, nil
}

func (c *Cached) UpdateRun(ctx context.Context, r *models.Run) error {
	defer c.keys.Lock(cacheKey(TypeRun, r.ID))()
	if err := c.Store.UpdateRun(ctx, r); err != nil {
		return err
	}
	c.put(TypeRun, r.ID, cloneRun(r))
	return nil
}

func (c *Cached) CreateFile(ctx context.Context, f *models.File, content []byte) error {
	defer c.keys.Lock(cacheKey(TypeFile, f.ID))()
	if err := c.Store.CreateFile(ctx, f, content); err != nil {
		return err
	}
	cp := *f
	c.put(TypeFile, f.ID, &cp)
	return nil
}

func (c *Cached) GetFile(ctx context.Context, id string) (*models.File, error) {
	if v, ok := c.lookup(TypeFile, id); ok {
		cp := *v.(*models.File)
		return &cp, nil
	}
	defer c.keys.Lock(cacheKey(TypeFile, id))()
	f, err := c.Store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *f
	c.put(TypeFile, id, &cp)
	return f, nil
}

func (c *Cached) DeleteFile(ctx context.Context, id string) error {
	defer c.keys.Lock(cacheKey(TypeFile, id))()
	if err := c.Store.DeleteFile(ctx, id); err != nil {
		return err
	}
	c.drop(TypeFile, id)
	return nil
}
