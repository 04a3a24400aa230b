// Package modelcache memoizes provider.Adapter.CreateModel calls so that
// concurrent requests for the same model id share one underlying handle
// construction instead of racing to build (and discard) duplicates —
// the "provider caching of per-model handles" design note.
package modelcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
)

// Cache wraps a provider.Adapter, memoizing CreateModel results per model
// id. The opts passed to CreateModel are not part of the key: the handle
// built by the first call for an id is returned for every later call with
// that id, whatever its opts. Safe for concurrent use.
type Cache struct {
	adapter provider.Adapter
	group   singleflight.Group

	mu      sync.RWMutex
	handles map[string]llmcomms.ProviderModel
}

// New wraps adapter with a per-model handle cache. The returned Cache
// itself satisfies provider.Adapter, delegating Name/Capabilities/Send/
// Stream straight through and intercepting only CreateModel.
func New(adapter provider.Adapter) *Cache {
	return &Cache{adapter: adapter, handles: make(map[string]llmcomms.ProviderModel)}
}

func (c *Cache) Name() string                               { return c.adapter.Name() }
func (c *Cache) Capabilities() llmcomms.ProviderCapabilities { return c.adapter.Capabilities() }

func (c *Cache) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	return c.adapter.Send(ctx, model, req, call)
}

func (c *Cache) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	return c.adapter.Stream(ctx, model, req, call)
}

// CreateModel returns the cached handle for id if present; otherwise it
// builds one via the wrapped adapter, de-duplicating concurrent builds
// for the same id through singleflight.
func (c *Cache) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	c.mu.RLock()
	if m, ok := c.handles[id]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(id, func() (any, error) {
		m, err := c.adapter.CreateModel(ctx, id, opts)
		if err != nil {
			return llmcomms.ProviderModel{}, err
		}
		c.mu.Lock()
		c.handles[id] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return llmcomms.ProviderModel{}, err
	}
	return v.(llmcomms.ProviderModel), nil
}

// Forget evicts id from the cache, forcing the next CreateModel call to
// rebuild the handle.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, id)
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
