package interceptors

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/glimte/mmate-http/contracts"
)

// RequestFilter decides whether a request may proceed
type RequestFilter interface {
	// ShouldProcess returns true if the request should be processed
	ShouldProcess(ctx context.Context, req *contracts.Request) (bool, error)
}

// RequestFilterFunc is a function adapter for RequestFilter
type RequestFilterFunc func(ctx context.Context, req *contracts.Request) (bool, error)

// ShouldProcess implements RequestFilter
func (f RequestFilterFunc) ShouldProcess(ctx context.Context, req *contracts.Request) (bool, error) {
	return f(ctx, req)
}

// SkipBehavior defines what happens when a request is filtered out
type SkipBehavior int

const (
	// SkipSilently completes the stream without emitting
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the stream with a *FilteredError
	SkipWithError
)

// FilteredError reports a request rejected by a filter
type FilteredError struct {
	Method string
	URL    string
}

func (e *FilteredError) Error() string {
	return fmt.Sprintf("request filtered: %s %s", e.Method, e.URL)
}

// FilteringInterceptor filters requests based on conditions
type FilteringInterceptor struct {
	filter       RequestFilter
	skipBehavior SkipBehavior
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter RequestFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		shouldProcess, err := i.filter.ShouldProcess(ctx, req)
		if err != nil {
			return fmt.Errorf("filter error: %w", err)
		}

		if !shouldProcess {
			if i.skipBehavior == SkipWithError {
				return &FilteredError{Method: req.Method, URL: req.URL}
			}
			return nil
		}

		return next.Handle(req).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []RequestFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...RequestFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements RequestFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, req *contracts.Request) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, req)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []RequestFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...RequestFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements RequestFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, req *contracts.Request) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, req)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// MethodFilter allows only the given HTTP methods
type MethodFilter struct {
	allowed map[string]bool
}

// NewMethodFilter creates a filter that only allows specific methods
func NewMethodFilter(methods ...string) *MethodFilter {
	allowed := make(map[string]bool)
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = true
	}
	return &MethodFilter{allowed: allowed}
}

// ShouldProcess implements RequestFilter
func (f *MethodFilter) ShouldProcess(_ context.Context, req *contracts.Request) (bool, error) {
	return f.allowed[strings.ToUpper(req.Method)], nil
}

// HostFilter allows only requests to the given hosts. Relative URLs are allowed.
type HostFilter struct {
	allowed map[string]bool
}

// NewHostFilter creates a host allow-list filter
func NewHostFilter(hosts ...string) *HostFilter {
	allowed := make(map[string]bool)
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = true
	}
	return &HostFilter{allowed: allowed}
}

// ShouldProcess implements RequestFilter
func (f *HostFilter) ShouldProcess(_ context.Context, req *contracts.Request) (bool, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return false, err
	}
	if u.Host == "" {
		return true, nil
	}
	return f.allowed[strings.ToLower(u.Host)] || f.allowed[strings.ToLower(u.Hostname())], nil
}

// ConditionalInterceptor applies an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   RequestFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition RequestFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		shouldExecute, err := i.condition.ShouldProcess(ctx, req)
		if err != nil {
			return err
		}

		if shouldExecute {
			return i.interceptor.Intercept(req, next).Subscribe(ctx, yield)
		}

		return next.Handle(req).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}

// ContextBasedFilter filters based on values in the interceptor context
type ContextBasedFilter struct {
	contextKey    string
	expectedValue any
}

// NewContextBasedFilter creates a filter that checks context values
func NewContextBasedFilter(contextKey string, expectedValue any) *ContextBasedFilter {
	return &ContextBasedFilter{
		contextKey:    contextKey,
		expectedValue: expectedValue,
	}
}

// ShouldProcess implements RequestFilter
func (f *ContextBasedFilter) ShouldProcess(ctx context.Context, _ *contracts.Request) (bool, error) {
	ic, exists := GetInterceptorContext(ctx)
	if !exists {
		return false, nil
	}

	value, exists := ic.Get(f.contextKey)
	if !exists {
		return false, nil
	}

	return value == f.expectedValue, nil
}
