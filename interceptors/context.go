package interceptors

import (
	"context"
	"sync"

	"github.com/glimte/mmate-http/contracts"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// InterceptorContextKey is the key for storing interceptor context
	InterceptorContextKey contextKey = "mmate:interceptor:context"
)

// InterceptorContext holds values shared between interceptors for one subscription
type InterceptorContext struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewInterceptorContext creates a new interceptor context
func NewInterceptorContext() *InterceptorContext {
	return &InterceptorContext{
		values: make(map[string]any),
	}
}

// Set stores a value in the interceptor context
func (ic *InterceptorContext) Set(key string, value any) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.values[key] = value
}

// Get retrieves a value from the interceptor context
func (ic *InterceptorContext) Get(key string) (any, bool) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	value, exists := ic.values[key]
	return value, exists
}

// GetString retrieves a string value from the interceptor context
func (ic *InterceptorContext) GetString(key string) (string, bool) {
	value, exists := ic.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Delete removes a value from the interceptor context
func (ic *InterceptorContext) Delete(key string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.values, key)
}

// Copy creates a copy of the interceptor context
func (ic *InterceptorContext) Copy() *InterceptorContext {
	ic.mu.RLock()
	defer ic.mu.RUnlock()

	newContext := NewInterceptorContext()
	for k, v := range ic.values {
		newContext.values[k] = v
	}
	return newContext
}

// GetInterceptorContext retrieves the interceptor context from the context
func GetInterceptorContext(ctx context.Context) (*InterceptorContext, bool) {
	ic, ok := ctx.Value(InterceptorContextKey).(*InterceptorContext)
	return ic, ok
}

// WithInterceptorContext adds the interceptor context to the context
func WithInterceptorContext(ctx context.Context, ic *InterceptorContext) context.Context {
	return context.WithValue(ctx, InterceptorContextKey, ic)
}

// EnsureInterceptorContext ensures an interceptor context exists in the context
func EnsureInterceptorContext(ctx context.Context) (context.Context, *InterceptorContext) {
	ic, exists := GetInterceptorContext(ctx)
	if !exists {
		ic = NewInterceptorContext()
		ctx = WithInterceptorContext(ctx, ic)
	}
	return ctx, ic
}

// ContextEnricher stores request metadata for interceptors further down the chain
type ContextEnricher interface {
	Enrich(ctx context.Context, ic *InterceptorContext, req *contracts.Request) error
}

// ContextEnricherFunc is a function adapter for ContextEnricher
type ContextEnricherFunc func(ctx context.Context, ic *InterceptorContext, req *contracts.Request) error

// Enrich implements ContextEnricher
func (f ContextEnricherFunc) Enrich(ctx context.Context, ic *InterceptorContext, req *contracts.Request) error {
	return f(ctx, ic, req)
}

// ContextEnrichmentInterceptor attaches an InterceptorContext to the subscription context
type ContextEnrichmentInterceptor struct {
	enricher ContextEnricher
}

// NewContextEnrichmentInterceptor creates a new context enrichment interceptor
func NewContextEnrichmentInterceptor(enricher ContextEnricher) *ContextEnrichmentInterceptor {
	return &ContextEnrichmentInterceptor{enricher: enricher}
}

// Intercept implements Interceptor
func (i *ContextEnrichmentInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		ctx, ic := EnsureInterceptorContext(ctx)

		if err := i.enricher.Enrich(ctx, ic, req); err != nil {
			return err
		}

		return next.Handle(req).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *ContextEnrichmentInterceptor) Name() string {
	return "ContextEnrichmentInterceptor"
}
