package interceptors

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

const tracerName = "github.com/glimte/mmate-http/interceptors"

// TracingInterceptor wraps each subscription in a client span and propagates the
// trace context to the backend through the request headers.
type TracingInterceptor struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingInterceptor creates a new tracing interceptor.
// A nil tracer uses the global tracer provider.
func NewTracingInterceptor(tracer trace.Tracer) *TracingInterceptor {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingInterceptor{
		tracer:     tracer,
		propagator: otel.GetTextMapPropagator(),
	}
}

// WithPropagator overrides the propagator used to inject trace headers
func (i *TracingInterceptor) WithPropagator(p propagation.TextMapPropagator) *TracingInterceptor {
	i.propagator = p
	return i
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		spanCtx, span := i.tracer.Start(ctx, "HTTP "+req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URLWithParams()),
				attribute.String("mmate.request_id", req.ID),
			),
		)
		defer span.End()

		carrier := propagation.HeaderCarrier(req.Headers.HTTPHeader())
		i.propagator.Inject(spanCtx, carrier)
		traced := req.Clone(contracts.WithHeaders(contracts.HeadersFromHTTP(http.Header(carrier))))

		err := next.Handle(traced).Subscribe(spanCtx, func(event contracts.Event) error {
			switch e := event.(type) {
			case contracts.SentEvent:
				span.AddEvent("sent")
			case *contracts.Response:
				span.SetAttributes(attribute.Int("http.response.status_code", e.Status))
			}
			return yield(event)
		})

		if err != nil && !errors.Is(err, stream.ErrStop) {
			if status := contracts.StatusCode(err); status != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", status))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}
