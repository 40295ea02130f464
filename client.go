// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/i18n"
	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/internal/reliability"
	"github.com/glimte/mmate-http/journal"
	"github.com/glimte/mmate-http/stream"
	httptransport "github.com/glimte/mmate-http/transports/http"
)

// ErrNoResponse is returned by Do when the stream completes without a Response event
var ErrNoResponse = errors.New("mmate: request completed without a response")

// Client provides the main entry point for mmate-http. It sends requests through
// the composed interceptor chain and exposes the localization configured for it.
type Client struct {
	handler      interceptors.Handler
	backend      interceptors.Backend
	localization *i18n.Localization
	logger       *slog.Logger
	closers      []func() error
}

// NewClient creates a client. Without WithBackend or WithConfig it sends
// requests with the net/http backend and no interceptors.
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	c := &Client{logger: cfg.logger}

	locale := "en"
	chain := append([]interceptors.Interceptor(nil), cfg.interceptors...)

	if cfg.config != nil {
		if cfg.config.Locale != "" {
			locale = cfg.config.Locale
		}

		if cfg.backend == nil {
			backend, err := config.NewBackend(context.Background(), cfg.config.Backend, cfg.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create backend: %w", err)
			}
			cfg.backend = backend
			c.closers = append(c.closers, backend.Close)
		}

		registry := cfg.registry
		if registry == nil {
			registry = config.NewRegistry()
		}
		configured, err := registry.BuildInterceptors(cfg.config.Interceptors, config.Deps{
			Logger:          cfg.logger,
			Metrics:         cfg.metrics,
			Tracer:          cfg.tracer,
			CircuitListener: cfg.circuitListener,
			Journal:         cfg.journal,
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to build interceptors: %w", err)
		}
		chain = append(chain, configured...)
	}

	if cfg.backend == nil {
		backend := httptransport.NewBackend(httptransport.WithLogger(cfg.logger))
		cfg.backend = backend
		c.closers = append(c.closers, backend.Close)
	}

	localization, err := i18n.NewLocalization(locale)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.backend = cfg.backend
	c.localization = localization
	c.handler = interceptors.Chain(cfg.backend, chain)

	cfg.logger.Debug("client created",
		"backend", cfg.backend.Name(),
		"interceptors", len(chain),
		"locale", locale)

	return c, nil
}

// Handler returns the composed chain
func (c *Client) Handler() interceptors.Handler {
	return c.handler
}

// Backend returns the terminal handler of the chain
func (c *Client) Backend() interceptors.Backend {
	return c.backend
}

// Localization returns the client's plural resolver
func (c *Client) Localization() *i18n.Localization {
	return c.localization
}

// Request returns the event stream of req. Nothing is sent until it is subscribed.
func (c *Client) Request(req *contracts.Request) stream.Stream[contracts.Event] {
	return c.handler.Handle(req)
}

// Events sends req and collects every event it produces
func (c *Client) Events(ctx context.Context, req *contracts.Request) ([]contracts.Event, error) {
	return stream.Collect(ctx, c.Request(req))
}

// Do sends req and returns its final Response
func (c *Client) Do(ctx context.Context, req *contracts.Request) (*contracts.Response, error) {
	last, ok, err := stream.Last(ctx, c.Request(req), func(e contracts.Event) bool {
		_, isResponse := contracts.AsResponse(e)
		return isResponse
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoResponse
	}
	resp, _ := contracts.AsResponse(last)
	return resp, nil
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, url string, opts ...contracts.RequestOption) (*contracts.Response, error) {
	return c.Do(ctx, contracts.NewRequest("GET", url, nil, opts...))
}

// Post sends a POST request with body
func (c *Client) Post(ctx context.Context, url string, body any, opts ...contracts.RequestOption) (*contracts.Response, error) {
	return c.Do(ctx, contracts.NewRequest("POST", url, body, opts...))
}

// Put sends a PUT request with body
func (c *Client) Put(ctx context.Context, url string, body any, opts ...contracts.RequestOption) (*contracts.Response, error) {
	return c.Do(ctx, contracts.NewRequest("PUT", url, body, opts...))
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, url string, opts ...contracts.RequestOption) (*contracts.Response, error) {
	return c.Do(ctx, contracts.NewRequest("DELETE", url, nil, opts...))
}

// Close releases the resources the client created. A backend passed with
// WithBackend is left to its owner.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	backend         interceptors.Backend
	interceptors    []interceptors.Interceptor
	config          *config.Config
	registry        *config.Registry
	metrics         interceptors.MetricsCollector
	tracer          trace.Tracer
	circuitListener reliability.StateChangeListener
	journal         *journal.Journal
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBackend sets the terminal handler
func WithBackend(backend interceptors.Backend) ClientOption {
	return func(cfg *clientConfig) {
		cfg.backend = backend
	}
}

// WithInterceptors appends interceptors, outermost first. They wrap any
// interceptors declared in the configuration.
func WithInterceptors(list ...interceptors.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, list...)
	}
}

// WithConfig builds the backend, the declared interceptors and the locale from cfg
func WithConfig(cfg *config.Config) ClientOption {
	return func(c *clientConfig) {
		c.config = cfg
	}
}

// WithRegistry resolves configured interceptor names with registry instead of the built-ins
func WithRegistry(registry *config.Registry) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registry = registry
	}
}

// WithMetrics supplies the collector used by a configured metrics interceptor
func WithMetrics(collector interceptors.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = collector
		if listener, ok := collector.(reliability.StateChangeListener); ok && cfg.circuitListener == nil {
			cfg.circuitListener = listener
		}
	}
}

// WithTracer supplies the tracer used by a configured tracing interceptor
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracer = tracer
	}
}

// WithJournal supplies the journal used by configured journal interceptors
func WithJournal(j *journal.Journal) ClientOption {
	return func(cfg *clientConfig) {
		cfg.journal = j
	}
}
