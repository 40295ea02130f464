package journal

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/interceptors"
)

// Interceptor records every event passing its position in the chain, then a
// complete or error entry when the stream ends
type Interceptor struct {
	journal   *Journal
	component string
}

// NewInterceptor records into j under component
func NewInterceptor(j *Journal, component string) *Interceptor {
	if component == "" {
		component = "journal"
	}
	return &Interceptor{journal: j, component: component}
}

// Intercept implements interceptors.Interceptor
func (i *Interceptor) Intercept(req *contracts.Request, next interceptors.Handler) interceptors.EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		start := time.Now()
		requestID := req.Headers.Get(interceptors.RequestIDHeader)
		if requestID == "" {
			requestID = req.ID
		}

		record := func(stage string, status int, err error) {
			entry := &Entry{
				RequestID: requestID,
				Component: i.component,
				Method:    req.Method,
				URL:       req.URLWithParams(),
				Stage:     stage,
				Status:    status,
				Duration:  time.Since(start),
			}
			if err != nil {
				entry.Error = err.Error()
			}
			_ = i.journal.Record(ctx, entry)
		}

		err := next.Handle(req)(ctx, func(event contracts.Event) error {
			record(event.EventType().String(), eventStatus(event), nil)
			return yield(event)
		})

		var httpErr *contracts.HTTPError
		switch {
		case err == nil:
			record(StageComplete, 0, nil)
		case errors.As(err, &httpErr):
			record(StageError, httpErr.Status, err)
		default:
			record(StageError, 0, err)
		}
		return err
	}
}

// Name implements interceptors.Interceptor
func (i *Interceptor) Name() string {
	return "journal"
}

func eventStatus(event contracts.Event) int {
	switch e := event.(type) {
	case *contracts.Response:
		return e.Status
	case contracts.HeaderResponse:
		return e.Status
	}
	return 0
}
