package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/stream"
)

// Connection reports whether a broker connection is up
type Connection interface {
	IsConnected() bool
}

// ConnectionChecker checks a broker connection
type ConnectionChecker struct {
	name string
	conn Connection
}

// NewConnectionChecker creates a connection checker
func NewConnectionChecker(name string, conn Connection) *ConnectionChecker {
	return &ConnectionChecker{name: name, conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return c.name
}

func (c *ConnectionChecker) Check(context.Context) CheckResult {
	result := CheckResult{Name: c.name, Timestamp: time.Now()}

	if c.conn.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "connected"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "not connected"
	}

	result.Duration = time.Since(result.Timestamp)
	return result
}

// EndpointChecker sends a probe request through a handler. Transport failures
// are unhealthy, server errors degraded.
type EndpointChecker struct {
	name    string
	handler interceptors.Handler
	method  string
	url     string
}

// NewEndpointChecker creates a checker probing url with a HEAD request
func NewEndpointChecker(name string, handler interceptors.Handler, url string) *EndpointChecker {
	return &EndpointChecker{name: name, handler: handler, method: http.MethodHead, url: url}
}

func (c *EndpointChecker) Name() string {
	return c.name
}

func (c *EndpointChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.name,
		Timestamp: start,
		Details:   map[string]any{"url": c.url},
	}

	req := contracts.NewRequest(c.method, c.url, nil, contracts.WithResponseType(contracts.ResponseTypeText))
	last, _, err := stream.Last(ctx, c.handler.Handle(req), func(e contracts.Event) bool {
		return e.EventType() == contracts.EventResponse
	})
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	var httpErr *contracts.HTTPError
	switch {
	case errors.As(err, &httpErr):
		result.Details["status"] = httpErr.Status
		if httpErr.Status >= 500 {
			result.Status = StatusDegraded
		} else {
			result.Status = StatusHealthy
		}
		result.Message = fmt.Sprintf("responded %d", httpErr.Status)
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = "probe failed"
		result.Error = err.Error()
	default:
		result.Status = StatusHealthy
		result.Message = "reachable"
		if resp, ok := last.(*contracts.Response); ok {
			result.Details["status"] = resp.Status
		}
	}

	return result
}

// RuntimeChecker flags goroutine leaks
type RuntimeChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker with goroutine thresholds
func NewRuntimeChecker(warnGoroutines, criticalGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"memory_used_mb": float64(m.Sys) / 1024 / 1024,
			"gc_runs":        m.NumGC,
			"goroutines":     goroutines,
		},
	}

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "normal"
	}

	result.Duration = time.Since(start)
	return result
}
