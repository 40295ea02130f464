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

func allow(v bool) RequestFilter {
	return RequestFilterFunc(func(context.Context, *contracts.Request) (bool, error) {
		return v, nil
	})
}

func TestFilteringInterceptor(t *testing.T) {
	req := contracts.NewRequest("POST", "https://api.example.com/orders", map[string]any{"id": 1})

	t.Run("passes requests the filter accepts", func(t *testing.T) {
		backend := newFakeBackend()
		handler := Chain(backend, []Interceptor{NewFilteringInterceptor(allow(true), SkipWithError)})

		events, err := stream.Collect(context.Background(), handler.Handle(req))
		require.NoError(t, err)
		assert.Len(t, events, 2)
		assert.Equal(t, int32(1), backend.calls.Load())
	})

	t.Run("skips silently", func(t *testing.T) {
		backend := newFakeBackend()
		handler := Chain(backend, []Interceptor{NewFilteringInterceptor(allow(false), SkipSilently)})

		events, err := stream.Collect(context.Background(), handler.Handle(req))
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, int32(0), backend.calls.Load())
	})

	t.Run("skips with error", func(t *testing.T) {
		handler := Chain(newFakeBackend(), []Interceptor{NewFilteringInterceptor(allow(false), SkipWithError)})

		err := stream.Drain(context.Background(), handler.Handle(req))

		var filtered *FilteredError
		require.ErrorAs(t, err, &filtered)
		assert.Equal(t, "POST", filtered.Method)
		assert.Equal(t, "https://api.example.com/orders", filtered.URL)
	})

	t.Run("wraps filter errors", func(t *testing.T) {
		boom := errors.New("boom")
		filter := RequestFilterFunc(func(context.Context, *contracts.Request) (bool, error) {
			return false, boom
		})
		handler := Chain(newFakeBackend(), []Interceptor{NewFilteringInterceptor(filter, SkipSilently)})

		err := stream.Drain(context.Background(), handler.Handle(req))
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "filter error")
	})
}

func TestFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("composite requires all", func(t *testing.T) {
		ok, err := NewCompositeFilter(allow(true), allow(true)).ShouldProcess(ctx, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = NewCompositeFilter(allow(true), allow(false)).ShouldProcess(ctx, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("or requires one", func(t *testing.T) {
		ok, err := NewOrFilter(allow(false), allow(true)).ShouldProcess(ctx, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = NewOrFilter(allow(false), allow(false)).ShouldProcess(ctx, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("method filter ignores case", func(t *testing.T) {
		f := NewMethodFilter("get", "HEAD")

		ok, _ := f.ShouldProcess(ctx, contracts.NewRequest("GET", "/", nil))
		assert.True(t, ok)
		ok, _ = f.ShouldProcess(ctx, contracts.NewRequest("DELETE", "/", nil))
		assert.False(t, ok)
	})

	t.Run("host filter", func(t *testing.T) {
		f := NewHostFilter("api.example.com")

		tests := []struct {
			url  string
			want bool
		}{
			{"https://api.example.com/x", true},
			{"https://API.example.com:8443/x", true},
			{"https://evil.example.com/x", false},
			{"/relative/path", true},
		}

		for _, tt := range tests {
			ok, err := f.ShouldProcess(ctx, contracts.NewRequest("GET", tt.url, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok, tt.url)
		}
	})
}

func TestConditionalInterceptor(t *testing.T) {
	var applied bool
	marker := NewInterceptorFunc("marker", func(req *contracts.Request, next Handler) EventStream {
		applied = true
		return next.Handle(req)
	})

	t.Run("applies the interceptor when the condition holds", func(t *testing.T) {
		applied = false
		ci := NewConditionalInterceptor(NewMethodFilter("GET"), marker)
		handler := Chain(newFakeBackend(), []Interceptor{ci})

		require.NoError(t, stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/", nil))))
		assert.True(t, applied)
		assert.Equal(t, "ConditionalInterceptor[marker]", ci.Name())
	})

	t.Run("bypasses the interceptor otherwise", func(t *testing.T) {
		applied = false
		ci := NewConditionalInterceptor(NewMethodFilter("GET"), marker)
		handler := Chain(newFakeBackend(), []Interceptor{ci})

		require.NoError(t, stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("PUT", "/", "x"))))
		assert.False(t, applied)
	})
}
