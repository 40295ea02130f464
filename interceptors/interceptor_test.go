package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/internal/reliability"
	"github.com/glimte/mmate-http/stream"
)

type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) RecordRequest(method string, status int, duration time.Duration) {
	m.Called(method, status, duration)
}

func (m *mockMetricsCollector) IncrementErrorCount(method string, errorType string) {
	m.Called(method, errorType)
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func failingBackend(err error) Backend {
	return NewBackendFunc("failing", func(*contracts.Request) EventStream {
		return stream.Fail[contracts.Event](err)
	})
}

func TestInterceptorChain(t *testing.T) {
	t.Run("NewInterceptorChain creates empty chain", func(t *testing.T) {
		logger := slog.Default()
		chain := NewInterceptorChain(logger)

		assert.NotNil(t, chain)
		assert.Equal(t, logger, chain.logger)
		assert.Equal(t, 0, chain.Len())
	})

	t.Run("Add adds interceptor to chain", func(t *testing.T) {
		chain := NewInterceptorChain(nil)

		result := chain.Add(NewLoggingInterceptor(nil))

		assert.Equal(t, chain, result)
		assert.Equal(t, 1, chain.Len())
	})

	t.Run("Then with no interceptors returns the backend", func(t *testing.T) {
		backend := newFakeBackend()
		assert.Same(t, backend, NewInterceptorChain(nil).Then(backend))
	})

	t.Run("Then runs interceptors in insertion order", func(t *testing.T) {
		var order []string

		first := NewInterceptorFunc("first", func(req *contracts.Request, next Handler) EventStream {
			return func(ctx context.Context, yield func(contracts.Event) error) error {
				order = append(order, "first-start")
				err := next.Handle(req).Subscribe(ctx, yield)
				order = append(order, "first-end")
				return err
			}
		})
		second := NewInterceptorFunc("second", func(req *contracts.Request, next Handler) EventStream {
			return func(ctx context.Context, yield func(contracts.Event) error) error {
				order = append(order, "second-start")
				err := next.Handle(req).Subscribe(ctx, yield)
				order = append(order, "second-end")
				return err
			}
		})

		handler := NewInterceptorChain(nil).Add(first).Add(second).Then(newFakeBackend())
		require.NoError(t, stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/", nil))))

		assert.Equal(t, []string{"first-start", "second-start", "second-end", "first-end"}, order)
	})

	t.Run("Interceptors returns a copy", func(t *testing.T) {
		chain := NewInterceptorChain(nil).Add(identity("a"))
		list := chain.Interceptors()
		list[0] = identity("b")

		assert.Equal(t, "a", chain.Interceptors()[0].Name())
	})
}

func TestLoggingInterceptor(t *testing.T) {
	req := contracts.NewRequest("GET", "https://example.com/a", nil)

	t.Run("logs start response and completion", func(t *testing.T) {
		logger, buf := bufferLogger()
		handler := Chain(newFakeBackend(), []Interceptor{NewLoggingInterceptor(logger)})

		events, err := stream.Collect(context.Background(), handler.Handle(req))
		require.NoError(t, err)
		assert.Len(t, events, 2)

		out := buf.String()
		assert.Contains(t, out, "sending request")
		assert.Contains(t, out, "response received")
		assert.Contains(t, out, "request completed")
		assert.Contains(t, out, req.ID)
	})

	t.Run("logs failures and passes them on", func(t *testing.T) {
		logger, buf := bufferLogger()
		boom := errors.New("dial tcp: refused")
		handler := Chain(failingBackend(boom), []Interceptor{NewLoggingInterceptor(logger)})

		err := stream.Drain(context.Background(), handler.Handle(req))

		assert.Same(t, boom, err)
		assert.Contains(t, buf.String(), "request failed")
		assert.Contains(t, buf.String(), "dial tcp: refused")
	})

	t.Run("nil logger uses default", func(t *testing.T) {
		assert.NotNil(t, NewLoggingInterceptor(nil).logger)
		assert.Equal(t, "LoggingInterceptor", NewLoggingInterceptor(nil).Name())
	})
}

func TestMetricsInterceptor(t *testing.T) {
	t.Run("records status and duration", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("RecordRequest", "GET", 200, mock.AnythingOfType("time.Duration")).Return()

		handler := Chain(newFakeBackend(), []Interceptor{NewMetricsInterceptor(collector)})
		require.NoError(t, stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/", nil))))

		collector.AssertExpectations(t)
		collector.AssertNotCalled(t, "IncrementErrorCount", mock.Anything, mock.Anything)
	})

	t.Run("records http errors with their status", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("RecordRequest", "POST", 503, mock.AnythingOfType("time.Duration")).Return()
		collector.On("IncrementErrorCount", "POST", "http_error").Return()

		httpErr := &contracts.HTTPError{Status: 503, StatusText: "Service Unavailable"}
		handler := Chain(failingBackend(httpErr), []Interceptor{NewMetricsInterceptor(collector)})

		err := stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("POST", "/", "x")))
		assert.ErrorIs(t, err, httpErr)
		collector.AssertExpectations(t)
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&contracts.HTTPError{Status: 404}, "http_error"},
		{&reliability.CircuitBreakerError{State: reliability.StateOpen}, "circuit_open"},
		{ErrRateLimited, "rate_limited"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("eof"), "transport_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestHeadersInterceptor(t *testing.T) {
	t.Run("adds missing headers without touching the original", func(t *testing.T) {
		backend := newFakeBackend()
		req := contracts.NewRequest("GET", "/", nil, contracts.SetHeader("Accept", "text/plain"))
		interceptor := NewHeadersInterceptor(map[string]string{"User-Agent": "mmate-http", "Accept": "application/json"}, false)

		require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{interceptor}).Handle(req)))

		sent := backend.lastRequest()
		assert.NotSame(t, req, sent)
		assert.Equal(t, "mmate-http", sent.Headers.Get("user-agent"))
		assert.Equal(t, "text/plain", sent.Headers.Get("Accept"))
		assert.False(t, req.Headers.Has("User-Agent"))
	})

	t.Run("override replaces existing headers", func(t *testing.T) {
		backend := newFakeBackend()
		req := contracts.NewRequest("GET", "/", nil, contracts.SetHeader("Accept", "text/plain"))
		interceptor := NewHeadersInterceptor(map[string]string{"Accept": "application/json"}, true)

		require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{interceptor}).Handle(req)))
		assert.Equal(t, "application/json", backend.lastRequest().Headers.Get("Accept"))
	})
}

func TestRequestIDInterceptor(t *testing.T) {
	backend := newFakeBackend()
	req := contracts.NewRequest("GET", "/", nil)

	require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{NewRequestIDInterceptor()}).Handle(req)))
	assert.Equal(t, req.ID, backend.lastRequest().Headers.Get(RequestIDHeader))

	preset := contracts.NewRequest("GET", "/", nil, contracts.SetHeader(RequestIDHeader, "upstream"))
	require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{NewRequestIDInterceptor()}).Handle(preset)))
	assert.Equal(t, "upstream", backend.lastRequest().Headers.Get(RequestIDHeader))
}

func TestTimeoutInterceptor(t *testing.T) {
	slow := NewBackendFunc("slow", func(*contracts.Request) EventStream {
		return func(ctx context.Context, yield func(contracts.Event) error) error {
			<-ctx.Done()
			return ctx.Err()
		}
	})

	t.Run("fails slow requests with a deadline error", func(t *testing.T) {
		handler := Chain(slow, []Interceptor{NewTimeoutInterceptor(20 * time.Millisecond)})

		err := stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/", nil)))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "timed out after")
	})

	t.Run("parent cancellation is reported as is", func(t *testing.T) {
		handler := Chain(slow, []Interceptor{NewTimeoutInterceptor(time.Hour)})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := stream.Drain(ctx, handler.Handle(contracts.NewRequest("GET", "/", nil)))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("fast requests pass", func(t *testing.T) {
		handler := Chain(newFakeBackend(), []Interceptor{NewTimeoutInterceptor(time.Second)})
		assert.NoError(t, stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/", nil))))
	})
}

func TestErrorHandlingInterceptor(t *testing.T) {
	req := contracts.NewRequest("GET", "/users/1", nil)

	t.Run("recovers with a replacement stream", func(t *testing.T) {
		logger, buf := bufferLogger()
		recovery := ErrorHandlerFunc(func(req *contracts.Request, err error) EventStream {
			return stream.Of[contracts.Event](&contracts.Response{Status: 200, URL: req.URL, Body: "fallback"})
		})
		handler := Chain(failingBackend(errors.New("down")), []Interceptor{NewErrorHandlingInterceptor(recovery, logger)})

		resp, ok, err := stream.Last(context.Background(), handler.Handle(req), nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "fallback", resp.(*contracts.Response).Body)
		assert.Contains(t, buf.String(), "request processing error")
	})

	t.Run("can keep the failure", func(t *testing.T) {
		wrapped := errors.New("wrapped")
		rethrow := ErrorHandlerFunc(func(_ *contracts.Request, err error) EventStream {
			return stream.Fail[contracts.Event](errors.Join(wrapped, err))
		})
		handler := Chain(failingBackend(errors.New("down")), []Interceptor{NewErrorHandlingInterceptor(rethrow, nil)})

		err := stream.Drain(context.Background(), handler.Handle(req))
		assert.ErrorIs(t, err, wrapped)
	})

	t.Run("success passes through", func(t *testing.T) {
		called := false
		eh := ErrorHandlerFunc(func(*contracts.Request, error) EventStream {
			called = true
			return stream.Empty[contracts.Event]()
		})
		handler := Chain(newFakeBackend(), []Interceptor{NewErrorHandlingInterceptor(eh, nil)})

		require.NoError(t, stream.Drain(context.Background(), handler.Handle(req)))
		assert.False(t, called)
	})
}

func TestCircuitBreakerInterceptor(t *testing.T) {
	req := contracts.NewRequest("GET", "/", nil)

	t.Run("opens after repeated failures and stops calling the backend", func(t *testing.T) {
		var calls int
		backend := NewBackendFunc("flaky", func(*contracts.Request) EventStream {
			calls++
			return stream.Fail[contracts.Event](&contracts.HTTPError{Status: 503})
		})
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(2), reliability.WithTimeout(time.Hour))
		handler := Chain(backend, []Interceptor{NewCircuitBreakerInterceptor(cb)})

		for i := 0; i < 2; i++ {
			assert.Error(t, stream.Drain(context.Background(), handler.Handle(req)))
		}

		err := stream.Drain(context.Background(), handler.Handle(req))
		assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
		assert.Equal(t, 2, calls)
	})

	t.Run("client errors do not trip the breaker", func(t *testing.T) {
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(1))
		handler := Chain(failingBackend(&contracts.HTTPError{Status: 404}), []Interceptor{NewCircuitBreakerInterceptor(cb)})

		_ = stream.Drain(context.Background(), handler.Handle(req))
		assert.Equal(t, reliability.StateClosed, cb.GetState())
	})

	t.Run("consumer cancellation does not count as a failure", func(t *testing.T) {
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(1))
		handler := Chain(newFakeBackend(), []Interceptor{NewCircuitBreakerInterceptor(cb)})

		events, err := stream.Collect(context.Background(), stream.Take(handler.Handle(req), 1))
		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, reliability.StateClosed, cb.GetState())
	})
}
