package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/stream"
)

func fixed(name string, status Status) Checker {
	return NewCheckerFunc(name, func(context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Timestamp: time.Now()}
	})
}

type connection bool

func (c connection) IsConnected() bool { return bool(c) }

func TestRegistryCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Checker{fixed("a", StatusHealthy), fixed("b", StatusHealthy)}, StatusHealthy},
		{"degraded wins over healthy", []Checker{fixed("a", StatusHealthy), fixed("b", StatusDegraded)}, StatusDegraded},
		{"unhealthy wins", []Checker{fixed("a", StatusDegraded), fixed("b", StatusUnhealthy)}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			report := r.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checkers))
		})
	}

	t.Run("slow checks time out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("fast", StatusHealthy))
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Name: "slow", Status: StatusHealthy}
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		report := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "check timed out", report.Checks["slow"].Message)
	})

	t.Run("metadata and unregister", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("a", StatusUnhealthy))
		r.SetMetadata("version", "dev")
		r.Unregister("a")

		report := r.Check(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, "dev", report.Metadata["version"])
	})
}

func TestHandlers(t *testing.T) {
	r := NewRegistry()
	r.Register(NewConnectionChecker("broker", connection(false)))

	t.Run("report", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var report Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, "not connected", report.Checks["broker"].Message)
	})

	t.Run("report rejects other methods", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("readiness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler(r)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		r.Register(NewConnectionChecker("broker", connection(true)))
		rec = httptest.NewRecorder()
		ReadinessHandler(r)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", rec.Body.String())
	})

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
		assert.Equal(t, "alive", rec.Body.String())
	})
}

func TestEndpointChecker(t *testing.T) {
	respond := func(events ...contracts.Event) interceptors.Handler {
		return interceptors.HandlerFunc(func(req *contracts.Request) interceptors.EventStream {
			return stream.Of(events...)
		})
	}

	tests := []struct {
		name    string
		handler interceptors.Handler
		want    Status
	}{
		{"ok", respond(contracts.SentEvent{}, &contracts.Response{Status: 204}), StatusHealthy},
		{"client error still reachable", interceptors.HandlerFunc(func(*contracts.Request) interceptors.EventStream {
			return stream.Fail[contracts.Event](&contracts.HTTPError{Status: 404})
		}), StatusHealthy},
		{"server error", interceptors.HandlerFunc(func(*contracts.Request) interceptors.EventStream {
			return stream.Fail[contracts.Event](&contracts.HTTPError{Status: 503})
		}), StatusDegraded},
		{"transport failure", interceptors.HandlerFunc(func(*contracts.Request) interceptors.EventStream {
			return stream.Fail[contracts.Event](errors.New("connection refused"))
		}), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewEndpointChecker("upstream", tt.handler, "http://upstream/").Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "upstream", result.Name)
		})
	}
}

func TestRuntimeChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewRuntimeChecker(10000, 20000).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewRuntimeChecker(0, 0).Check(context.Background()).Status)
}
