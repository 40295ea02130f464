// Package reliability provides retry policies and a circuit breaker used by the
// retry and circuit breaker interceptors.
//
// This package implements:
//   - Retry Policies: exponential backoff and fixed delay, honoring errors that
//     classify themselves through an IsRetryable method
//   - Circuit Breaker: rejects calls while a downstream keeps failing; calls are
//     admitted with Allow and reported through the returned done func so that the
//     protected operation can span a whole stream subscription
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithSuccessThreshold(3),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return riskyOperation()
//	})
package reliability
