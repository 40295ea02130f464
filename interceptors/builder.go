package interceptors

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/internal/reliability"
)

// DefaultInterceptorChainBuilder builds a common interceptor chain.
// Interceptors run in the order they are added: the first one added is outermost.
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *DefaultInterceptorChainBuilder) WithMetrics(collector MetricsCollector) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithTracing adds tracing interceptor
func (b *DefaultInterceptorChainBuilder) WithTracing(tracer trace.Tracer) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTracingInterceptor(tracer))
	return b
}

// WithHeaders adds static headers and the request id header
func (b *DefaultInterceptorChainBuilder) WithHeaders(headers map[string]string) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRequestIDInterceptor())
	if len(headers) > 0 {
		b.chain.Add(NewHeadersInterceptor(headers, false))
	}
	return b
}

// WithAuth adds bearer token authentication
func (b *DefaultInterceptorChainBuilder) WithAuth(source TokenSource) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewAuthInterceptor(source))
	return b
}

// WithRateLimit adds rate limiting interceptor
func (b *DefaultInterceptorChainBuilder) WithRateLimit(limiter RateLimiter) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRateLimitingInterceptor(limiter))
	return b
}

// WithTimeout adds timeout interceptor
func (b *DefaultInterceptorChainBuilder) WithTimeout(timeout time.Duration) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTimeoutInterceptor(timeout))
	return b
}

// WithRetry adds retry interceptor
func (b *DefaultInterceptorChainBuilder) WithRetry(policy reliability.RetryPolicy) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRetryInterceptor(policy).WithLogger(b.logger))
	return b
}

// WithCircuitBreaker adds circuit breaker interceptor
func (b *DefaultInterceptorChainBuilder) WithCircuitBreaker(circuitBreaker CircuitBreaker) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewCircuitBreakerInterceptor(circuitBreaker))
	return b
}

// WithCache adds response caching for GET requests
func (b *DefaultInterceptorChainBuilder) WithCache(cache ResponseCache) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewCachingInterceptor(cache))
	return b
}

// WithErrorHandling adds error handling interceptor
func (b *DefaultInterceptorChainBuilder) WithErrorHandling(errorHandler ErrorHandler) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewErrorHandlingInterceptor(errorHandler, b.logger))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
