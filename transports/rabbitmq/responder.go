package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/internal/rabbitmq"
)

const (
	// DefaultDrainTimeout is how long in-flight requests keep running once
	// Serve's context is cancelled
	DefaultDrainTimeout = 10 * time.Second

	finalReplyTimeout = 5 * time.Second
)

// ResponderOption configures a Responder
type ResponderOption func(*Responder)

// WithQueue sets the queue the responder consumes
func WithQueue(queue string) ResponderOption {
	return func(r *Responder) {
		if queue != "" {
			r.queue = queue
		}
	}
}

// WithConcurrency bounds the number of requests served at once
func WithConcurrency(n int) ResponderOption {
	return func(r *Responder) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDrainTimeout bounds how long in-flight requests may run after Serve's
// context is cancelled before they are aborted
func WithDrainTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// WithResponderLogger sets the logger
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Responder serves envelopes from a queue through a Handler and publishes every
// resulting event to the envelope's reply queue. The last envelope of a reply is
// marked final and carries the failure, if any.
type Responder struct {
	channel     Channel
	handler     interceptors.Handler
	queue       string
	concurrency  int
	drainTimeout time.Duration
	logger       *slog.Logger
}

// NewResponder creates a responder
func NewResponder(ch Channel, handler interceptors.Handler, opts ...ResponderOption) *Responder {
	r := &Responder{
		channel:      ch,
		handler:      handler,
		queue:        DefaultRoutingKey,
		concurrency:  1,
		drainTimeout: DefaultDrainTimeout,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Serve consumes requests until ctx is done or the delivery channel closes.
// It returns nil after ctx is cancelled and in-flight requests finished. Those
// requests keep running for up to the drain timeout; past it they are aborted
// and their requesters get a final error reply.
func (r *Responder) Serve(ctx context.Context) error {
	if _, err := r.channel.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return &rabbitmq.ChannelError{Op: "declare request queue " + r.queue, Err: err}
	}

	deliveries, err := r.channel.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return &rabbitmq.ChannelError{Op: "consume request queue " + r.queue, Err: err}
	}

	r.logger.Info("responder started", "queue", r.queue, "concurrency", r.concurrency)

	work, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	stopDrain := context.AfterFunc(ctx, func() {
		time.AfterFunc(r.drainTimeout, abort)
	})
	defer stopDrain()

	var wg sync.WaitGroup
	defer wg.Wait()

	slots := make(chan struct{}, r.concurrency)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("responder stopping", "queue", r.queue)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return rabbitmq.ErrConsumerClosed
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				r.serve(work, d)
			}()
		}
	}
}

func (r *Responder) serve(ctx context.Context, d amqp.Delivery) {
	var env contracts.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		r.logger.Warn("rejecting malformed request", "messageId", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = env.ReplyTo
	}
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = env.CorrelationID
	}
	if replyTo == "" || correlationID == "" {
		r.logger.Warn("rejecting request without reply address", "requestId", env.ID)
		_ = d.Nack(false, false)
		return
	}

	req := env.Request()
	if env.ContentType != "" && !req.Headers.Has("Content-Type") {
		req = req.Clone(contracts.SetHeader("Content-Type", env.ContentType))
	}

	logger := r.logger.With("requestId", req.ID, "correlationId", correlationID)
	logger.DebugContext(ctx, "serving request", "method", req.Method, "url", req.URL)

	err := r.handler.Handle(req)(ctx, func(event contracts.Event) error {
		out, err := contracts.EncodeEvent(correlationID, event, false)
		if err != nil {
			return err
		}
		return r.publish(ctx, replyTo, out)
	})

	final := finalEnvelope(correlationID, err)
	if err != nil {
		logger.WarnContext(ctx, "request failed", "error", err)
	}

	// the final reply goes out even when the work context was aborted
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalReplyTimeout)
	defer cancel()
	if pubErr := r.publish(pubCtx, replyTo, final); pubErr != nil {
		logger.ErrorContext(ctx, "failed to publish final reply", "error", pubErr)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

// finalEnvelope closes a reply. An HTTP failure keeps its status and body so the
// requester can rebuild the *contracts.HTTPError.
func finalEnvelope(correlationID string, err error) *contracts.EventEnvelope {
	final := &contracts.EventEnvelope{CorrelationID: correlationID, Final: true}
	if err == nil {
		return final
	}

	final.Error = err.Error()

	var httpErr *contracts.HTTPError
	if errors.As(err, &httpErr) {
		final.Status = httpErr.Status
		final.StatusText = httpErr.StatusText
		final.URL = httpErr.URL
		final.Headers = httpErr.Headers.HTTPHeader()
		if httpErr.Body != nil {
			if body, marshalErr := json.Marshal(httpErr.Body); marshalErr == nil {
				final.Body = body
			}
		}
	}
	return final
}

func (r *Responder) publish(ctx context.Context, replyTo string, env *contracts.EventEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: env.CorrelationID,
		Type:          env.Type,
		Body:          body,
	}
	if err := r.channel.PublishWithContext(ctx, "", replyTo, false, false, msg); err != nil {
		return &rabbitmq.PublishError{Exchange: "", RoutingKey: replyTo, Err: err}
	}
	return nil
}
