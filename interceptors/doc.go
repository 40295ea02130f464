// Package interceptors provides the request interceptor chain.
//
// A request travels through an ordered list of interceptors to a single Backend,
// and the Backend's event stream travels back through the same interceptors in
// reverse. Each interceptor sees the request and the Handler that follows it and
// may rewrite the request, rewrite or add events, answer the request itself, or
// call the next Handler several times.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs requests, responses and failures with timing
//   - MetricsInterceptor: reports counts, durations and error kinds to a MetricsCollector
//   - TracingInterceptor: OpenTelemetry client spans and trace header propagation
//   - HeadersInterceptor and RequestIDInterceptor: static and request id headers
//   - AuthInterceptor: bearer tokens from a TokenSource such as JWTTokenSource
//   - RateLimitingInterceptor: token buckets per target host
//   - TimeoutInterceptor: deadline for the downstream subscription
//   - RetryInterceptor: resubscribes to the downstream handler on retryable failures
//   - CircuitBreakerInterceptor: fails fast while the downstream keeps failing
//   - CachingInterceptor and ShortCircuitInterceptor: answer without the backend
//   - FilteringInterceptor and ConditionalInterceptor: request filters
//   - ErrorHandlingInterceptor: replaces failures with a recovery stream
//   - ContextEnrichmentInterceptor: request-scoped values for later interceptors
//
// Example usage:
//
//	handler := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithLogging().
//		WithHeaders(map[string]string{"User-Agent": "orders/1.0"}).
//		WithRetry(reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2, 3)).
//		WithTimeout(30 * time.Second).
//		Build().
//		Then(backend)
//
//	events, err := stream.Collect(ctx, handler.Handle(req))
//
// Interceptors run in the order they are added: the first one added sees the
// request first and the response events last. An empty chain is the backend itself.
package interceptors
