package interceptors

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

// ShortCircuitEvaluator decides whether a request is answered without reaching the backend.
// When handled is true the returned events are emitted in place of the downstream stream.
type ShortCircuitEvaluator interface {
	ShouldShortCircuit(ctx context.Context, req *contracts.Request) (handled bool, events []contracts.Event, err error)
}

// ShortCircuitEvaluatorFunc is a function adapter for ShortCircuitEvaluator
type ShortCircuitEvaluatorFunc func(ctx context.Context, req *contracts.Request) (bool, []contracts.Event, error)

// ShouldShortCircuit implements ShortCircuitEvaluator
func (f ShortCircuitEvaluatorFunc) ShouldShortCircuit(ctx context.Context, req *contracts.Request) (bool, []contracts.Event, error) {
	return f(ctx, req)
}

// ShortCircuitInterceptor can answer a request itself instead of calling next
type ShortCircuitInterceptor struct {
	evaluator ShortCircuitEvaluator
}

// NewShortCircuitInterceptor creates a new short-circuit interceptor
func NewShortCircuitInterceptor(evaluator ShortCircuitEvaluator) *ShortCircuitInterceptor {
	return &ShortCircuitInterceptor{evaluator: evaluator}
}

// Intercept implements Interceptor
func (i *ShortCircuitInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		handled, events, err := i.evaluator.ShouldShortCircuit(ctx, req)
		if err != nil {
			return err
		}

		if handled {
			return stream.Of(events...).Subscribe(ctx, yield)
		}

		return next.Handle(req).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *ShortCircuitInterceptor) Name() string {
	return "ShortCircuitInterceptor"
}

// ResponseCache stores final responses by key
type ResponseCache interface {
	Get(ctx context.Context, key string) (*contracts.Response, bool, error)
	Set(ctx context.Context, key string, resp *contracts.Response) error
}

// MemoryCache is an in-process ResponseCache with a fixed time to live
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	resp    *contracts.Response
	expires time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl; zero keeps them forever
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements ResponseCache
func (c *MemoryCache) Get(_ context.Context, key string) (*contracts.Response, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.resp, true, nil
}

// Set implements ResponseCache
func (c *MemoryCache) Set(_ context.Context, key string, resp *contracts.Response) error {
	entry := cacheEntry{resp: resp}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CachingInterceptor answers GET requests from a ResponseCache.
// A hit emits the cached response without calling next. In refresh mode a hit
// emits the cached response first and then the fresh downstream events.
type CachingInterceptor struct {
	cache   ResponseCache
	refresh bool
}

// NewCachingInterceptor creates a new caching interceptor
func NewCachingInterceptor(cache ResponseCache) *CachingInterceptor {
	return &CachingInterceptor{cache: cache}
}

// WithRefresh enables emitting the cached response followed by a fresh one
func (i *CachingInterceptor) WithRefresh(refresh bool) *CachingInterceptor {
	i.refresh = refresh
	return i
}

// Intercept implements Interceptor
func (i *CachingInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	if req.Method != http.MethodGet {
		return next.Handle(req)
	}

	return func(ctx context.Context, yield func(contracts.Event) error) error {
		key := cacheKey(req)

		cached, found, err := i.cache.Get(ctx, key)
		if err != nil {
			return err
		}

		if found {
			if err := yield(cached); err != nil {
				return err
			}
			if !i.refresh {
				return nil
			}
		}

		return next.Handle(req).Subscribe(ctx, func(event contracts.Event) error {
			if resp, ok := contracts.AsResponse(event); ok && resp.OK() {
				if err := i.cache.Set(ctx, key, resp); err != nil {
					return err
				}
			}
			return yield(event)
		})
	}
}

// Name implements Interceptor
func (i *CachingInterceptor) Name() string {
	return "CachingInterceptor"
}

func cacheKey(req *contracts.Request) string {
	return req.Method + " " + req.URLWithParams()
}
