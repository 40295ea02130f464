package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *TracingInterceptor) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	interceptor := NewTracingInterceptor(tp.Tracer("test")).WithPropagator(propagation.TraceContext{})
	return recorder, interceptor
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingInterceptor(t *testing.T) {
	t.Run("records a client span with the response status", func(t *testing.T) {
		recorder, interceptor := newRecordingTracer()
		backend := newFakeBackend()
		req := contracts.NewRequest("GET", "https://example.com/a", nil)

		require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{interceptor}).Handle(req)))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "HTTP GET", spans[0].Name())
		assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())

		status, ok := spanAttr(spans[0], "http.response.status_code")
		require.True(t, ok)
		assert.Equal(t, int64(200), status.AsInt64())
	})

	t.Run("propagates the trace context in headers", func(t *testing.T) {
		recorder, interceptor := newRecordingTracer()
		backend := newFakeBackend()
		req := contracts.NewRequest("GET", "https://example.com/a", nil)

		require.NoError(t, stream.Drain(context.Background(), Chain(backend, []Interceptor{interceptor}).Handle(req)))

		traceparent := backend.lastRequest().Headers.Get("traceparent")
		require.NotEmpty(t, traceparent)
		assert.Contains(t, traceparent, recorder.Ended()[0].SpanContext().TraceID().String())
		assert.False(t, req.Headers.Has("traceparent"))
	})

	t.Run("marks failures", func(t *testing.T) {
		recorder, interceptor := newRecordingTracer()
		httpErr := &contracts.HTTPError{Status: 500, StatusText: "Internal Server Error", URL: "/b"}

		err := stream.Drain(context.Background(), Chain(failingBackend(httpErr), []Interceptor{interceptor}).Handle(contracts.NewRequest("POST", "/b", "x")))
		require.Error(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		status, ok := spanAttr(spans[0], "http.response.status_code")
		require.True(t, ok)
		assert.Equal(t, int64(500), status.AsInt64())
	})
}
