// Package metrics exports request metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimte/mmate-http/internal/reliability"
)

// DefaultBuckets covers request latencies from 5ms to 30s
var DefaultBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Collector records request metrics. It satisfies interceptors.MetricsCollector and
// reliability.StateChangeListener.
type Collector struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
}

// NewCollector registers the request metrics with reg.
// A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmate_http_requests_total",
				Help: "Requests by method and final status",
			},
			[]string{"method", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mmate_http_request_duration_seconds",
				Help:    "Request duration including every interceptor below the metrics interceptor",
				Buckets: DefaultBuckets,
			},
			[]string{"method"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmate_http_errors_total",
				Help: "Failed requests by method and error kind",
			},
			[]string{"method", "kind"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mmate_http_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"name"},
		),
	}
}

// RecordRequest implements interceptors.MetricsCollector
func (c *Collector) RecordRequest(method string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, statusLabel(status)).Inc()
	c.duration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *Collector) IncrementErrorCount(method string, errorType string) {
	c.errors.WithLabelValues(method, errorType).Inc()
}

// OnStateChange implements reliability.StateChangeListener
func (c *Collector) OnStateChange(name string, _, to reliability.State, _ string) {
	c.circuitState.WithLabelValues(name).Set(float64(to))
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
