package config

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/journal"
	"github.com/glimte/mmate-http/internal/reliability"
)

// Deps are the shared collaborators handed to every interceptor factory
type Deps struct {
	Logger          *slog.Logger
	Metrics         interceptors.MetricsCollector
	Tracer          trace.Tracer
	CircuitListener reliability.StateChangeListener
	Journal         *journal.Journal
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Factory builds one interceptor from its declaration
type Factory func(cfg InterceptorConfig, deps Deps) (interceptors.Interceptor, error)

// Registry maps interceptor names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in interceptors
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("logging", newLogging)
	r.Register("metrics", newMetrics)
	r.Register("tracing", newTracing)
	r.Register("request_id", newRequestID)
	r.Register("headers", newHeaders)
	r.Register("auth", newAuth)
	r.Register("rate_limit", newRateLimit)
	r.Register("timeout", newTimeout)
	r.Register("retry", newRetry)
	r.Register("circuit_breaker", newCircuitBreaker)
	r.Register("cache", newCache)
	r.Register("filter", newFilter)
	r.Register("journal", newJournal)

	return r
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the interceptor declared by cfg
func (r *Registry) Build(cfg InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown interceptor %q", cfg.Name)
	}
	return factory(cfg, deps)
}

// BuildInterceptors builds every declaration in order. Repeated names produce
// separate instances.
func (r *Registry) BuildInterceptors(configs []InterceptorConfig, deps Deps) ([]interceptors.Interceptor, error) {
	out := make([]interceptors.Interceptor, 0, len(configs))
	for i, cfg := range configs {
		ic, err := r.Build(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("interceptors[%d]: %w", i, err)
		}
		out = append(out, ic)
	}
	return out, nil
}

// BuildChain builds the configured interceptors and composes them over backend
func BuildChain(cfg *Config, registry *Registry, backend interceptors.Backend, deps Deps) (interceptors.Handler, error) {
	if registry == nil {
		registry = NewRegistry()
	}

	list, err := registry.BuildInterceptors(cfg.Interceptors, deps)
	if err != nil {
		return nil, err
	}

	handler, err := interceptors.ChainConfig{Backend: backend, Interceptors: list}.Build()
	if err != nil {
		return nil, err
	}

	deps.logger().Debug("interceptor chain built",
		"backend", backend.Name(),
		"interceptors", len(list))

	return handler, nil
}

func newLogging(_ InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	return interceptors.NewLoggingInterceptor(deps.logger()), nil
}

func newMetrics(_ InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics interceptor needs a metrics collector")
	}
	return interceptors.NewMetricsInterceptor(deps.Metrics), nil
}

func newTracing(_ InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	return interceptors.NewTracingInterceptor(deps.Tracer), nil
}

func newRequestID(InterceptorConfig, Deps) (interceptors.Interceptor, error) {
	return interceptors.NewRequestIDInterceptor(), nil
}

func newHeaders(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	headers, err := cfg.Options.StringMap("headers")
	if err != nil {
		return nil, err
	}
	override, err := cfg.Options.Bool("override", false)
	if err != nil {
		return nil, err
	}
	return interceptors.NewHeadersInterceptor(headers, override), nil
}

// newAuth reads either a static "token" or a "jwt" block with secret, issuer,
// subject, audience and ttl
func newAuth(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	token, err := cfg.Options.String("token", "")
	if err != nil {
		return nil, err
	}
	if token != "" {
		return interceptors.NewAuthInterceptor(interceptors.StaticToken(token)), nil
	}

	jwtOpts, ok, err := cfg.Options.Sub("jwt")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("auth interceptor needs a \"token\" or a \"jwt\" block")
	}

	secret, err := jwtOpts.String("secret", "")
	if err != nil {
		return nil, err
	}
	issuer, err := jwtOpts.String("issuer", "")
	if err != nil {
		return nil, err
	}
	subject, err := jwtOpts.String("subject", "")
	if err != nil {
		return nil, err
	}
	audience, err := jwtOpts.Strings("audience")
	if err != nil {
		return nil, err
	}
	ttl, err := jwtOpts.Duration("ttl", 0)
	if err != nil {
		return nil, err
	}

	source, err := interceptors.NewJWTTokenSource(interceptors.JWTConfig{
		Secret:   []byte(secret),
		Issuer:   issuer,
		Subject:  subject,
		Audience: audience,
		TTL:      ttl,
	})
	if err != nil {
		return nil, err
	}
	return interceptors.NewAuthInterceptor(source), nil
}

func newRateLimit(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	rps, err := cfg.Options.Float("rps", 10)
	if err != nil {
		return nil, err
	}
	burst, err := cfg.Options.Int("burst", 1)
	if err != nil {
		return nil, err
	}
	wait, err := cfg.Options.Bool("wait", true)
	if err != nil {
		return nil, err
	}

	limiter := interceptors.NewHostRateLimiter(rps, burst, wait)

	hosts, _, err := cfg.Options.Sub("hosts")
	if err != nil {
		return nil, err
	}
	for host := range hosts {
		hostOpts, _, err := hosts.Sub(host)
		if err != nil {
			return nil, fmt.Errorf("rate_limit hosts: %w", err)
		}
		hostRPS, err := hostOpts.Float("rps", rps)
		if err != nil {
			return nil, err
		}
		hostBurst, err := hostOpts.Int("burst", burst)
		if err != nil {
			return nil, err
		}
		limiter.Set(host, hostRPS, hostBurst)
	}

	return interceptors.NewRateLimitingInterceptor(limiter), nil
}

func newTimeout(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	timeout, err := cfg.Options.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	return interceptors.NewTimeoutInterceptor(timeout), nil
}

// newRetry builds an exponential policy by default, or a fixed one with policy: fixed
func newRetry(cfg InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	o := cfg.Options

	maxRetries, err := o.Int("max_retries", 3)
	if err != nil {
		return nil, err
	}
	policyName, err := o.String("policy", "exponential")
	if err != nil {
		return nil, err
	}
	delay, err := o.Duration("delay", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}

	var policy reliability.RetryPolicy
	switch policyName {
	case "fixed":
		policy = reliability.NewFixedDelay(delay, maxRetries)
	case "exponential":
		maxDelay, err := o.Duration("max_delay", 10*time.Second)
		if err != nil {
			return nil, err
		}
		multiplier, err := o.Float("multiplier", 2)
		if err != nil {
			return nil, err
		}
		policy = reliability.NewExponentialBackoff(delay, maxDelay, multiplier, maxRetries)
	default:
		return nil, fmt.Errorf("retry policy must be \"fixed\" or \"exponential\", got %q", policyName)
	}

	return interceptors.NewRetryInterceptor(policy).WithLogger(deps.logger()), nil
}

func newCircuitBreaker(cfg InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	o := cfg.Options

	name, err := o.String("breaker", "default")
	if err != nil {
		return nil, err
	}
	failures, err := o.Int("failure_threshold", 5)
	if err != nil {
		return nil, err
	}
	successes, err := o.Int("success_threshold", 3)
	if err != nil {
		return nil, err
	}
	timeout, err := o.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	probes, err := o.Int("half_open_requests", 3)
	if err != nil {
		return nil, err
	}

	opts := []reliability.CircuitBreakerOption{
		reliability.WithName(name),
		reliability.WithFailureThreshold(failures),
		reliability.WithSuccessThreshold(successes),
		reliability.WithTimeout(timeout),
		reliability.WithHalfOpenRequests(probes),
	}
	if deps.CircuitListener != nil {
		opts = append(opts, reliability.WithStateListener(deps.CircuitListener))
	}

	return interceptors.NewCircuitBreakerInterceptor(reliability.NewCircuitBreaker(opts...)), nil
}

func newCache(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	ttl, err := cfg.Options.Duration("ttl", time.Minute)
	if err != nil {
		return nil, err
	}
	refresh, err := cfg.Options.Bool("refresh", false)
	if err != nil {
		return nil, err
	}
	return interceptors.NewCachingInterceptor(interceptors.NewMemoryCache(ttl)).WithRefresh(refresh), nil
}

// newFilter only lets through requests matching every listed condition
func newFilter(cfg InterceptorConfig, _ Deps) (interceptors.Interceptor, error) {
	methods, err := cfg.Options.Strings("methods")
	if err != nil {
		return nil, err
	}
	hosts, err := cfg.Options.Strings("hosts")
	if err != nil {
		return nil, err
	}
	skip, err := cfg.Options.String("on_reject", "error")
	if err != nil {
		return nil, err
	}

	var filters []interceptors.RequestFilter
	if len(methods) > 0 {
		filters = append(filters, interceptors.NewMethodFilter(methods...))
	}
	if len(hosts) > 0 {
		filters = append(filters, interceptors.NewHostFilter(hosts...))
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("filter interceptor needs \"methods\" or \"hosts\"")
	}

	var behavior interceptors.SkipBehavior
	switch skip {
	case "error":
		behavior = interceptors.SkipWithError
	case "silent":
		behavior = interceptors.SkipSilently
	default:
		return nil, fmt.Errorf("filter on_reject must be \"error\" or \"silent\", got %q", skip)
	}

	return interceptors.NewFilteringInterceptor(interceptors.NewCompositeFilter(filters...), behavior), nil
}

func newJournal(cfg InterceptorConfig, deps Deps) (interceptors.Interceptor, error) {
	if deps.Journal == nil {
		return nil, fmt.Errorf("journal interceptor needs a journal")
	}
	component, err := cfg.Options.String("component", "journal")
	if err != nil {
		return nil, err
	}
	return journal.NewInterceptor(deps.Journal, component), nil
}
