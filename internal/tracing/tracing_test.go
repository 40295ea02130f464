package tracing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeDisabled(t *testing.T) {
	tracer, shutdown, err := Initialize(context.Background(), Config{ServiceName: "test"}, slog.Default())
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestNewProvider(t *testing.T) {
	t.Run("records spans with the service resource", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp, err := NewProvider(Config{ServiceName: "mmate-http-test"}, sdktrace.WithSpanProcessor(recorder))
		require.NoError(t, err)
		defer func() { _ = tp.Shutdown(context.Background()) }()

		_, span := tp.Tracer("test").Start(context.Background(), "op")
		span.End()

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "op", spans[0].Name())

		var service string
		for _, kv := range spans[0].Resource().Attributes() {
			if kv.Key == "service.name" {
				service = kv.Value.AsString()
			}
		}
		assert.Equal(t, "mmate-http-test", service)
	})

	t.Run("ratio sampler drops unsampled roots", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp, err := NewProvider(Config{ServiceName: "s", SampleRatio: 0.0000001}, sdktrace.WithSpanProcessor(recorder))
		require.NoError(t, err)
		defer func() { _ = tp.Shutdown(context.Background()) }()

		for i := 0; i < 10; i++ {
			_, span := tp.Tracer("test").Start(context.Background(), "op")
			span.End()
		}
		assert.Less(t, len(recorder.Ended()), 10)
	})
}

func TestInitializeEnabled(t *testing.T) {
	t.Run("installs the global provider", func(t *testing.T) {
		prevProvider, prevPropagator := otel.GetTracerProvider(), otel.GetTextMapPropagator()
		defer func() {
			otel.SetTracerProvider(prevProvider)
			otel.SetTextMapPropagator(prevPropagator)
		}()

		tracer, shutdown, err := Initialize(context.Background(), Config{
			Enabled:     true,
			Endpoint:    "127.0.0.1:4317",
			ServiceName: "mmate-http-test",
		}, nil)
		require.NoError(t, err)

		_, span := tracer.Start(context.Background(), "op")
		assert.True(t, span.SpanContext().IsValid())
		span.End()
		_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
		assert.True(t, isSDK)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = shutdown(ctx)
	})
}

func TestPropagator(t *testing.T) {
	fields := Propagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}
