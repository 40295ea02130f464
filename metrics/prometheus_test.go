package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/internal/reliability"
	"github.com/glimte/mmate-http/stream"
)

func TestCollector(t *testing.T) {
	t.Run("records requests and durations", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		c := NewCollector(reg)

		c.RecordRequest("GET", 200, 50*time.Millisecond)
		c.RecordRequest("GET", 200, 10*time.Millisecond)
		c.RecordRequest("POST", 0, time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "200")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("POST", "none")))
		assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
	})

	t.Run("records errors by kind", func(t *testing.T) {
		c := NewCollector(prometheus.NewRegistry())

		c.IncrementErrorCount("GET", "timeout")
		assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("GET", "timeout")))
	})

	t.Run("tracks circuit state", func(t *testing.T) {
		c := NewCollector(prometheus.NewRegistry())

		c.OnStateChange("orders", reliability.StateClosed, reliability.StateOpen, "threshold")
		assert.Equal(t, 2.0, testutil.ToFloat64(c.circuitState.WithLabelValues("orders")))
	})

	t.Run("works as the metrics interceptor collector", func(t *testing.T) {
		c := NewCollector(prometheus.NewRegistry())
		backend := interceptors.NewBackendFunc("stub", func(req *contracts.Request) stream.Stream[contracts.Event] {
			return stream.Fail[contracts.Event](&contracts.HTTPError{Status: 502})
		})
		handler := interceptors.Chain(backend, []interceptors.Interceptor{interceptors.NewMetricsInterceptor(c)})

		_ = stream.Drain(context.Background(), handler.Handle(contracts.NewRequest("GET", "/x", nil)))

		assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "502")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("GET", "http_error")))
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRequest("GET", 204, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mmate_http_requests_total{method="GET",status="204"} 1`)
}
