package interceptors

import (
	"errors"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

// EventStream is the stream of lifecycle events produced for one request
type EventStream = stream.Stream[contracts.Event]

// ErrNoBackend is returned when a chain is configured without a backend
var ErrNoBackend = errors.New("interceptor chain requires exactly one backend")

// Handler turns a request into a stream of events.
// Handle must not block: work starts when the returned stream is subscribed.
type Handler interface {
	Handle(req *contracts.Request) EventStream
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(req *contracts.Request) EventStream

// Handle implements Handler
func (f HandlerFunc) Handle(req *contracts.Request) EventStream {
	return f(req)
}

// Backend is the terminal Handler that performs the transport.
// It completes after the final event or fails the stream on a transport error.
type Backend interface {
	Handler
	Name() string
}

// BackendFunc adapts a function into a named Backend
type BackendFunc struct {
	name string
	fn   func(req *contracts.Request) EventStream
}

// NewBackendFunc creates a function-based backend
func NewBackendFunc(name string, fn func(req *contracts.Request) EventStream) *BackendFunc {
	return &BackendFunc{name: name, fn: fn}
}

// Handle implements Handler
func (b *BackendFunc) Handle(req *contracts.Request) EventStream {
	return b.fn(req)
}

// Name implements Backend
func (b *BackendFunc) Name() string {
	return b.name
}

// Link is a Handler that hands the request to one interceptor together with the
// Handler that follows it. It adds no behavior of its own: failures and panics
// raised by the interceptor or by next reach the caller unchanged.
type Link struct {
	next        Handler
	interceptor Interceptor
}

// NewLink wraps next with interceptor
func NewLink(next Handler, interceptor Interceptor) *Link {
	return &Link{next: next, interceptor: interceptor}
}

// Handle implements Handler
func (l *Link) Handle(req *contracts.Request) EventStream {
	return l.interceptor.Intercept(req, l.next)
}

// Next returns the wrapped handler
func (l *Link) Next() Handler {
	return l.next
}

// Interceptor returns the interceptor this link applies
func (l *Link) Interceptor() Interceptor {
	return l.interceptor
}

// Chain composes interceptors around backend into a single root Handler.
//
// The list is folded from the back, so interceptors[0] is the outermost link: it sees
// the request first and the response events last. A nil or empty list returns the
// backend itself. Chain performs no I/O and cannot fail.
func Chain(backend Backend, interceptors []Interceptor) Handler {
	if len(interceptors) == 0 {
		return backend
	}

	var handler Handler = backend
	for i := len(interceptors) - 1; i >= 0; i-- {
		handler = NewLink(handler, interceptors[i])
	}
	return handler
}

// ChainConfig is the explicit wiring for a chain: one backend and an ordered list of
// interceptors. Duplicates in the list are allowed and each runs independently.
type ChainConfig struct {
	Backend      Backend
	Interceptors []Interceptor
}

// Build composes the configured chain
func (c ChainConfig) Build() (Handler, error) {
	if c.Backend == nil {
		return nil, ErrNoBackend
	}
	return Chain(c.Backend, c.Interceptors), nil
}
