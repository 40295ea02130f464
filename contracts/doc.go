// Package contracts provides the value types that flow through an interceptor chain.
//
// This package defines:
//   - Request: an immutable description of an outgoing call, copied with Clone
//   - Headers: an immutable case-insensitive header multimap
//   - Event: the lifecycle events a request produces (sent, progress, headers, response, user)
//   - HTTPError: the failure reported for non-2xx responses
//   - Envelope and EventEnvelope: JSON wire forms used by message-based backends
//
// Body helpers serialize request bodies and infer a Content-Type from the body's shape.
package contracts
