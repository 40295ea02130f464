package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"github.com/glimte/mmate-http/contracts"
)

// ErrRateLimited is returned when a request is rejected without waiting
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter admits requests for a key
type RateLimiter interface {
	// Allow blocks until the request may proceed or fails when it may not
	Allow(ctx context.Context, key string) error
}

// HostRateLimiter keeps one token bucket per key.
// Keys without an explicit limit use the default limit; a zero default disables limiting.
type HostRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]rateSetting
	fallback rateSetting
	wait     bool
}

type rateSetting struct {
	rps   float64
	burst int
}

// NewHostRateLimiter creates a limiter with a default rate applied to every host.
// When wait is set, Allow blocks until a token is available; otherwise it fails fast.
func NewHostRateLimiter(rps float64, burst int, wait bool) *HostRateLimiter {
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limits:   make(map[string]rateSetting),
		fallback: normalizeSetting(rps, burst),
		wait:     wait,
	}
}

// Set configures the rate for a single key
func (l *HostRateLimiter) Set(key string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limits[key] = normalizeSetting(rps, burst)
	delete(l.limiters, key)
}

// Allow implements RateLimiter
func (l *HostRateLimiter) Allow(ctx context.Context, key string) error {
	lim := l.limiter(key)
	if lim == nil {
		return nil
	}

	if l.wait {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrRateLimited, key, err)
		}
		return nil
	}

	if !lim.Allow() {
		return fmt.Errorf("%w for %s", ErrRateLimited, key)
	}
	return nil
}

func (l *HostRateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	setting, ok := l.limits[key]
	if !ok {
		setting = l.fallback
	}
	if setting.rps <= 0 {
		return nil
	}

	lim := rate.NewLimiter(rate.Limit(setting.rps), setting.burst)
	l.limiters[key] = lim
	return lim
}

func normalizeSetting(rps float64, burst int) rateSetting {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return rateSetting{rps: rps, burst: burst}
}

// RateLimitingInterceptor implements rate limiting per target host
type RateLimitingInterceptor struct {
	limiter RateLimiter
}

// NewRateLimitingInterceptor creates a new rate limiting interceptor
func NewRateLimitingInterceptor(limiter RateLimiter) *RateLimitingInterceptor {
	return &RateLimitingInterceptor{limiter: limiter}
}

// Intercept implements Interceptor
func (i *RateLimitingInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		key := rateLimitKey(req)
		if err := i.limiter.Allow(ctx, key); err != nil {
			return err
		}
		return next.Handle(req).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *RateLimitingInterceptor) Name() string {
	return "RateLimitingInterceptor"
}

// rateLimitKey uses the target host; relative URLs share one bucket
func rateLimitKey(req *contracts.Request) string {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return "*"
	}
	return u.Host
}
