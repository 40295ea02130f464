package mmate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/metrics"
)

func TestConfiguredClientAgainstServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"user":"`+r.Header.Get("X-User")+`","auth":"`+r.Header.Get("Authorization")+`"}`)
	}))
	defer srv.Close()

	cfg, err := config.Parse([]byte(`
interceptors:
  - name: metrics
  - name: retry
    options:
      policy: fixed
      delay: 1ms
      max_retries: 3
  - name: headers
    options:
      headers:
        X-User: alice
  - name: auth
    options:
      token: t0k3n
`))
	require.NoError(t, err)
	cfg.Backend.HTTP.BaseURL = srv.URL + "/api/"

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	client, err := NewClient(WithConfig(cfg), WithMetrics(collector))
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "profile")
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"user": "alice", "auth": "Bearer t0k3n"}, resp.Body)
	assert.Equal(t, int32(3), hits.Load())

	count, err := testutil.GatherAndCount(reg, "mmate_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfiguredClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"no such order"}`)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Backend.HTTP.BaseURL = srv.URL
	cfg.Interceptors = []config.InterceptorConfig{
		{Name: "retry", Options: config.Options{"policy": "fixed", "delay": "1ms", "max_retries": 2}},
	}

	client, err := NewClient(WithConfig(&cfg))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Get(context.Background(), "/orders/7")

	var httpErr *contracts.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.Status)
	assert.Equal(t, map[string]any{"error": "no such order"}, httpErr.Body)
}
