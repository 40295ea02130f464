package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/internal/reliability"
	"github.com/glimte/mmate-http/stream"
)

// Interceptor transforms a request on its way to the backend and the event stream
// on its way back. It may call next.Handle zero or more times.
type Interceptor interface {
	// Intercept processes a request and delegates to the next handler in the chain
	Intercept(req *contracts.Request, next Handler) EventStream

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(req *contracts.Request, next Handler) EventStream
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(req *contracts.Request, next Handler) EventStream) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(req *contracts.Request, next Handler) EventStream {
	return i.fn(req, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain collects interceptors in order and binds them to a backend
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Interceptors returns a copy of the configured interceptors in order
func (c *InterceptorChain) Interceptors() []Interceptor {
	out := make([]Interceptor, len(c.interceptors))
	copy(out, c.interceptors)
	return out
}

// Then binds the chain to backend and returns the root handler
func (c *InterceptorChain) Then(backend Backend) Handler {
	names := make([]string, 0, len(c.interceptors))
	for _, interceptor := range c.interceptors {
		names = append(names, interceptor.Name())
	}
	c.logger.Debug("interceptor chain built",
		"backend", backend.Name(),
		"interceptors", names,
	)

	return Chain(backend, c.Interceptors())
}

// Built-in interceptors

// LoggingInterceptor logs request processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		start := time.Now()

		i.logger.InfoContext(ctx, "sending request",
			"requestId", req.ID,
			"method", req.Method,
			"url", req.URL,
		)

		err := next.Handle(req).Subscribe(ctx, func(event contracts.Event) error {
			if resp, ok := contracts.AsResponse(event); ok {
				i.logger.InfoContext(ctx, "response received",
					"requestId", req.ID,
					"status", resp.Status,
					"duration", time.Since(start),
				)
			}
			return yield(event)
		})
		duration := time.Since(start)

		if err != nil && !errors.Is(err, stream.ErrStop) {
			i.logger.ErrorContext(ctx, "request failed",
				"requestId", req.ID,
				"method", req.Method,
				"url", req.URL,
				"duration", duration,
				"error", err,
			)
		} else {
			i.logger.InfoContext(ctx, "request completed",
				"requestId", req.ID,
				"method", req.Method,
				"duration", duration,
			)
		}

		return err
	}
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector defines the interface for collecting request metrics
type MetricsCollector interface {
	// RecordRequest records one finished request. status is 0 when no response arrived.
	RecordRequest(method string, status int, duration time.Duration)
	IncrementErrorCount(method string, errorType string)
}

// MetricsInterceptor collects metrics about request processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		start := time.Now()
		status := 0

		err := next.Handle(req).Subscribe(ctx, func(event contracts.Event) error {
			if resp, ok := contracts.AsResponse(event); ok {
				status = resp.Status
			}
			return yield(event)
		})

		if err != nil && status == 0 {
			status = contracts.StatusCode(err)
		}
		i.collector.RecordRequest(req.Method, status, time.Since(start))

		if err != nil && !errors.Is(err, stream.ErrStop) {
			i.collector.IncrementErrorCount(req.Method, ErrorKind(err))
		}

		return err
	}
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// ErrorKind classifies a request failure for metrics labels
func ErrorKind(err error) string {
	var httpErr *contracts.HTTPError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.Is(err, reliability.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport_error"
	}
}

// HeadersInterceptor adds static headers to every request.
// Headers already present on the request are kept unless override is set.
type HeadersInterceptor struct {
	headers  contracts.Headers
	override bool
}

// NewHeadersInterceptor creates a new headers interceptor
func NewHeadersInterceptor(headers map[string]string, override bool) *HeadersInterceptor {
	return &HeadersInterceptor{
		headers:  contracts.NewHeaders(headers),
		override: override,
	}
}

// Intercept implements Interceptor
func (i *HeadersInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	merged := req.Headers
	for _, name := range i.headers.Keys() {
		if merged.Has(name) && !i.override {
			continue
		}
		merged = merged.Set(name, i.headers.Values(name)...)
	}

	return next.Handle(req.Clone(contracts.WithHeaders(merged)))
}

// Name implements Interceptor
func (i *HeadersInterceptor) Name() string {
	return "HeadersInterceptor"
}

// RequestIDHeader carries the request id downstream
const RequestIDHeader = "X-Request-ID"

// RequestIDInterceptor propagates the request id as a header
type RequestIDInterceptor struct{}

// NewRequestIDInterceptor creates a new request id interceptor
func NewRequestIDInterceptor() *RequestIDInterceptor {
	return &RequestIDInterceptor{}
}

// Intercept implements Interceptor
func (i *RequestIDInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	if req.ID == "" || req.Headers.Has(RequestIDHeader) {
		return next.Handle(req)
	}
	return next.Handle(req.Clone(contracts.SetHeader(RequestIDHeader, req.ID)))
}

// Name implements Interceptor
func (i *RequestIDInterceptor) Name() string {
	return "RequestIDInterceptor"
}

// TimeoutInterceptor bounds the downstream subscription with a deadline
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()

		err := next.Handle(req).Subscribe(timeoutCtx, yield)
		if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("request %s timed out after %v: %w", req.ID, i.timeout, context.DeadlineExceeded)
		}
		return err
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// ErrorHandler decides how a failed request is recovered.
// Returning a stream replaces the failure; returning stream.Fail keeps it.
type ErrorHandler interface {
	HandleError(req *contracts.Request, err error) EventStream
}

// ErrorHandlerFunc is a function adapter for ErrorHandler
type ErrorHandlerFunc func(req *contracts.Request, err error) EventStream

// HandleError implements ErrorHandler
func (f ErrorHandlerFunc) HandleError(req *contracts.Request, err error) EventStream {
	return f(req, err)
}

// ErrorHandlingInterceptor handles errors and provides recovery
type ErrorHandlingInterceptor struct {
	errorHandler ErrorHandler
	logger       *slog.Logger
}

// NewErrorHandlingInterceptor creates a new error handling interceptor
func NewErrorHandlingInterceptor(errorHandler ErrorHandler, logger *slog.Logger) *ErrorHandlingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorHandlingInterceptor{
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *ErrorHandlingInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return stream.Catch(next.Handle(req), func(err error) EventStream {
		i.logger.Error("request processing error",
			"requestId", req.ID,
			"method", req.Method,
			"url", req.URL,
			"error", err,
		)

		// Let error handler decide how to handle the error
		return i.errorHandler.HandleError(req, err)
	})
}

// Name implements Interceptor
func (i *ErrorHandlingInterceptor) Name() string {
	return "ErrorHandlingInterceptor"
}

// CircuitBreaker admits or rejects calls and learns from their outcome
type CircuitBreaker interface {
	Allow() (done func(error), err error)
}

// CircuitBreakerInterceptor fails fast while the downstream keeps failing.
// The whole subscription counts as one call.
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		done, err := i.circuitBreaker.Allow()
		if err != nil {
			return err
		}

		var consumerErr error
		err = next.Handle(req).Subscribe(ctx, func(event contracts.Event) error {
			if err := yield(event); err != nil {
				consumerErr = err
				return err
			}
			return nil
		})

		// consumer cancellation says nothing about downstream health
		if consumerErr != nil || ctx.Err() != nil {
			done(nil)
		} else {
			done(err)
		}
		return err
	}
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}
