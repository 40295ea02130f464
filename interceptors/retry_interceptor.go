package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/internal/reliability"
)

// RetryInterceptor re-subscribes to the downstream handler when it fails.
// Events forwarded by a failed attempt stay forwarded; the consumer sees the
// events of every attempt in order.
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy reliability.RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		var consumerErr error

		err := reliability.Retry(ctx, r.retryPolicy, req.Method+" "+req.URL, func(attempt int) error {
			if attempt > 0 {
				r.logger.WarnContext(ctx, "retrying request",
					"requestId", req.ID,
					"attempt", attempt,
				)
			}

			err := next.Handle(req).Subscribe(ctx, func(event contracts.Event) error {
				if err := yield(event); err != nil {
					consumerErr = err
					return err
				}
				return nil
			})
			if consumerErr != nil {
				return reliability.Permanent(consumerErr)
			}
			return err
		})

		if consumerErr != nil {
			return consumerErr
		}
		return err
	}
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
