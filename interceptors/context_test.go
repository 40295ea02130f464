package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

func TestInterceptorContext(t *testing.T) {
	t.Run("Set and Get", func(t *testing.T) {
		ic := NewInterceptorContext()

		ic.Set("key1", "value1")
		val, exists := ic.Get("key1")
		assert.True(t, exists)
		assert.Equal(t, "value1", val)

		ic.Set("key2", 42)
		val, exists = ic.Get("key2")
		assert.True(t, exists)
		assert.Equal(t, 42, val)

		val, exists = ic.Get("nonexistent")
		assert.False(t, exists)
		assert.Nil(t, val)
	})

	t.Run("GetString rejects other types", func(t *testing.T) {
		ic := NewInterceptorContext()
		ic.Set("tenant", "acme")
		ic.Set("count", 3)

		s, ok := ic.GetString("tenant")
		assert.True(t, ok)
		assert.Equal(t, "acme", s)

		_, ok = ic.GetString("count")
		assert.False(t, ok)
	})

	t.Run("Copy is independent", func(t *testing.T) {
		ic := NewInterceptorContext()
		ic.Set("a", 1)

		cp := ic.Copy()
		cp.Set("b", 2)
		ic.Delete("a")

		_, ok := ic.Get("b")
		assert.False(t, ok)
		v, ok := cp.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("EnsureInterceptorContext reuses an existing context", func(t *testing.T) {
		ctx, ic := EnsureInterceptorContext(context.Background())
		ctx2, ic2 := EnsureInterceptorContext(ctx)

		assert.Same(t, ic, ic2)
		assert.Equal(t, ctx, ctx2)

		_, ok := GetInterceptorContext(context.Background())
		assert.False(t, ok)
	})
}

func TestContextEnrichmentInterceptor(t *testing.T) {
	req := contracts.NewRequest("GET", "https://api.example.com/users", nil)

	t.Run("values are visible to downstream interceptors", func(t *testing.T) {
		enricher := ContextEnricherFunc(func(ctx context.Context, ic *InterceptorContext, req *contracts.Request) error {
			ic.Set("tenant", "acme")
			return nil
		})

		var seen string
		probe := NewInterceptorFunc("probe", func(req *contracts.Request, next Handler) EventStream {
			return func(ctx context.Context, yield func(contracts.Event) error) error {
				ic, ok := GetInterceptorContext(ctx)
				require.True(t, ok)
				seen, _ = ic.GetString("tenant")
				return next.Handle(req).Subscribe(ctx, yield)
			}
		})

		handler := Chain(newFakeBackend(), []Interceptor{NewContextEnrichmentInterceptor(enricher), probe})
		require.NoError(t, stream.Drain(context.Background(), handler.Handle(req)))

		assert.Equal(t, "acme", seen)
	})

	t.Run("enricher failure stops the request", func(t *testing.T) {
		backend := newFakeBackend()
		enricher := ContextEnricherFunc(func(context.Context, *InterceptorContext, *contracts.Request) error {
			return errors.New("no tenant")
		})

		handler := Chain(backend, []Interceptor{NewContextEnrichmentInterceptor(enricher)})
		err := stream.Drain(context.Background(), handler.Handle(req))

		assert.EqualError(t, err, "no tenant")
		assert.Equal(t, int32(0), backend.calls.Load())
	})

	t.Run("context based filter reads enriched values", func(t *testing.T) {
		backend := newFakeBackend()
		enricher := ContextEnricherFunc(func(_ context.Context, ic *InterceptorContext, _ *contracts.Request) error {
			ic.Set("env", "staging")
			return nil
		})
		filter := NewFilteringInterceptor(NewContextBasedFilter("env", "production"), SkipSilently)

		handler := Chain(backend, []Interceptor{NewContextEnrichmentInterceptor(enricher), filter})
		events, err := stream.Collect(context.Background(), handler.Handle(req))

		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, int32(0), backend.calls.Load())
	})
}
