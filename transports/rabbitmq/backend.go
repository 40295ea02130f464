// Package rabbitmq carries requests over AMQP request/reply.
//
// Backend publishes each request as a contracts.Envelope and streams the
// EventEnvelopes that come back on its exclusive reply queue. Responder is the
// other end: it consumes envelopes from a queue, runs them through a Handler and
// publishes the resulting events to the requester's reply queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/internal/rabbitmq"
	"github.com/glimte/mmate-http/stream"
)

const (
	contentTypeJSON = "application/json"

	// DefaultExchange is the default exchange
	DefaultExchange = ""
	// DefaultRoutingKey is the queue a Responder listens on by default
	DefaultRoutingKey = "mmate.http.requests"
)

// Channel is the subset of *amqp.Channel used by Backend and Responder
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// replyBuffer is how many reply envelopes wait for one subscription before it
// is failed with ErrReplyOverflow
const replyBuffer = 16

// ErrReplyOverflow fails a subscription that fell replyBuffer envelopes behind.
// The dispatcher never blocks on one subscriber, so replies for other
// correlation ids keep flowing.
var ErrReplyOverflow = errors.New("reply buffer overflow: subscriber too slow")

// ReplyError is the failure carried by an error envelope that has no HTTP status
type ReplyError struct {
	CorrelationID string
	Message       string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("remote request %s failed: %s", e.CorrelationID, e.Message)
}

// Option configures a Backend
type Option func(*Backend)

// WithExchange sets the exchange requests are published to
func WithExchange(exchange string) Option {
	return func(b *Backend) {
		b.exchange = exchange
	}
}

// WithRoutingKey sets the routing key requests are published with
func WithRoutingKey(key string) Option {
	return func(b *Backend) {
		if key != "" {
			b.routingKey = key
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type pendingReply struct {
	events chan *contracts.EventEnvelope
	failed chan struct{}
}

// Backend sends requests over AMQP and streams the replies. Replies are routed
// to subscriptions by correlation id; a subscription that is cancelled stops
// receiving and its late replies are dropped. A subscription that stops reading
// fails with ErrReplyOverflow instead of holding up the others.
type Backend struct {
	channel    Channel
	exchange   string
	routingKey string
	replyQueue string
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingReply
	closed  bool

	dispatchDone chan struct{}
}

// NewBackend opens a channel on manager and starts consuming replies
func NewBackend(manager *rabbitmq.ConnectionManager, opts ...Option) (*Backend, error) {
	ch, err := manager.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open backend channel: %w", err)
	}

	b, err := NewBackendWithChannel(ch, opts...)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return b, nil
}

// NewBackendWithChannel builds a Backend on an already open channel
func NewBackendWithChannel(ch Channel, opts ...Option) (*Backend, error) {
	b := &Backend{
		channel:      ch,
		exchange:     DefaultExchange,
		routingKey:   DefaultRoutingKey,
		logger:       slog.Default(),
		pending:      make(map[string]*pendingReply),
		dispatchDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, &rabbitmq.ChannelError{Op: "declare reply queue", Err: err, Timestamp: time.Now()}
	}
	b.replyQueue = q.Name

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, &rabbitmq.ChannelError{Op: "consume reply queue", Err: err, Timestamp: time.Now()}
	}

	go b.dispatch(deliveries)

	b.logger.Debug("amqp backend ready",
		"replyQueue", b.replyQueue,
		"exchange", b.exchange,
		"routingKey", b.routingKey)

	return b, nil
}

// Name implements interceptors.Backend
func (b *Backend) Name() string {
	return "amqp"
}

// ReplyQueue returns the name of the exclusive reply queue
func (b *Backend) ReplyQueue() string {
	return b.replyQueue
}

// Close closes the channel; pending subscriptions fail with rabbitmq.ErrNoReply
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.channel.Close()
	<-b.dispatchDone
	return err
}

// Handle implements interceptors.Handler
func (b *Backend) Handle(req *contracts.Request) stream.Stream[contracts.Event] {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		correlationID := uuid.NewString()

		env, err := contracts.NewEnvelope(req, correlationID, b.replyQueue)
		if err != nil {
			return err
		}
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}

		reply, err := b.register(correlationID)
		if err != nil {
			return err
		}
		defer b.unregister(correlationID)

		msg := amqp.Publishing{
			ContentType:   contentTypeJSON,
			CorrelationId: correlationID,
			ReplyTo:       b.replyQueue,
			MessageId:     req.ID,
			Timestamp:     time.Now(),
			Type:          req.Method,
			Body:          body,
		}
		if err := b.channel.PublishWithContext(ctx, b.exchange, b.routingKey, false, false, msg); err != nil {
			return &rabbitmq.PublishError{Exchange: b.exchange, RoutingKey: b.routingKey, Err: err}
		}

		b.logger.DebugContext(ctx, "request published",
			"requestId", req.ID,
			"correlationId", correlationID)

		if err := yield(contracts.SentEvent{}); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-reply.failed:
				return ErrReplyOverflow
			case e, ok := <-reply.events:
				if !ok {
					return rabbitmq.ErrNoReply
				}
				if e.Error != "" {
					return replyFailure(e)
				}
				if e.Type != "" && e.Type != contracts.EventSent.String() {
					event, err := e.Decode()
					if err != nil {
						return err
					}
					if err := yield(event); err != nil {
						return err
					}
				}
				if e.Final {
					return nil
				}
			}
		}
	}
}

// replyFailure rebuilds the error carried by an error envelope. A status marks
// an HTTP failure on the remote side and becomes a *contracts.HTTPError.
func replyFailure(e *contracts.EventEnvelope) error {
	if e.Status == 0 {
		return &ReplyError{CorrelationID: e.CorrelationID, Message: e.Error}
	}

	var body any
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, &body); err != nil {
			body = string(e.Body)
		}
	}
	return &contracts.HTTPError{
		Status:     e.Status,
		StatusText: e.StatusText,
		URL:        e.URL,
		Headers:    contracts.HeadersFromHTTP(http.Header(e.Headers)),
		Body:       body,
	}
}

func (b *Backend) register(correlationID string) (*pendingReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, rabbitmq.ErrConnectionClosed
	}
	reply := &pendingReply{
		events: make(chan *contracts.EventEnvelope, replyBuffer),
		failed: make(chan struct{}),
	}
	b.pending[correlationID] = reply
	return reply, nil
}

func (b *Backend) unregister(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, correlationID)
}

// overflow drops a subscription whose buffer is full and wakes it with
// ErrReplyOverflow
func (b *Backend) overflow(correlationID string, reply *pendingReply) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending[correlationID] == reply {
		delete(b.pending, correlationID)
		close(reply.failed)
	}
}

func (b *Backend) lookup(correlationID string) (*pendingReply, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reply, ok := b.pending[correlationID]
	return reply, ok
}

// dispatch routes reply deliveries until the delivery channel closes
func (b *Backend) dispatch(deliveries <-chan amqp.Delivery) {
	defer close(b.dispatchDone)

	for d := range deliveries {
		var env contracts.EventEnvelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			b.logger.Warn("dropping malformed reply", "correlationId", d.CorrelationId, "error", err)
			continue
		}
		if env.CorrelationID == "" {
			env.CorrelationID = d.CorrelationId
		}

		reply, ok := b.lookup(env.CorrelationID)
		if !ok {
			b.logger.Debug("dropping reply without subscriber", "correlationId", env.CorrelationID)
			continue
		}

		select {
		case reply.events <- &env:
		default:
			b.logger.Warn("reply subscriber too slow, failing it", "correlationId", env.CorrelationID)
			b.overflow(env.CorrelationID, reply)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, reply := range b.pending {
		close(reply.events)
		delete(b.pending, id)
	}
}
