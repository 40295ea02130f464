package contracts

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ResponseType is the shape the caller expects the response body in
type ResponseType string

const (
	ResponseTypeJSON        ResponseType = "json"
	ResponseTypeText        ResponseType = "text"
	ResponseTypeBlob        ResponseType = "blob"
	ResponseTypeArrayBuffer ResponseType = "arraybuffer"
)

// Request describes an outgoing call. A Request is never mutated after construction;
// Clone produces a modified copy.
type Request struct {
	ID              string
	URL             string
	Method          string
	Headers         Headers
	Params          url.Values
	Body            any
	ReportProgress  bool
	ResponseType    ResponseType
	WithCredentials bool
}

// RequestOption overrides a field while constructing or cloning a Request
type RequestOption func(*Request)

// WithURL sets the target URL
func WithURL(u string) RequestOption {
	return func(r *Request) {
		r.URL = u
	}
}

// WithMethod sets the request method
func WithMethod(method string) RequestOption {
	return func(r *Request) {
		r.Method = strings.ToUpper(method)
	}
}

// WithBody sets the request body. A reader is read to the end immediately.
func WithBody(body any) RequestOption {
	return func(r *Request) {
		r.Body = bufferBody(body)
	}
}

// WithHeaders replaces the whole header set
func WithHeaders(headers Headers) RequestOption {
	return func(r *Request) {
		r.Headers = headers
	}
}

// SetHeader sets a single header on top of the current ones
func SetHeader(name string, values ...string) RequestOption {
	return func(r *Request) {
		r.Headers = r.Headers.Set(name, values...)
	}
}

// WithParams replaces the query parameters
func WithParams(params url.Values) RequestOption {
	return func(r *Request) {
		r.Params = copyValues(params)
	}
}

// SetParam sets a single query parameter on top of the current ones
func SetParam(name string, values ...string) RequestOption {
	return func(r *Request) {
		params := copyValues(r.Params)
		if params == nil {
			params = url.Values{}
		}
		params[name] = append([]string(nil), values...)
		r.Params = params
	}
}

// WithReportProgress enables progress events
func WithReportProgress(enabled bool) RequestOption {
	return func(r *Request) {
		r.ReportProgress = enabled
	}
}

// WithResponseType sets the expected response body shape
func WithResponseType(rt ResponseType) RequestOption {
	return func(r *Request) {
		r.ResponseType = rt
	}
}

// WithCredentials sets the credentials flag
func WithCredentials(enabled bool) RequestOption {
	return func(r *Request) {
		r.WithCredentials = enabled
	}
}

// NewRequest creates a Request. The body is dropped for methods that never carry one.
func NewRequest(method, target string, body any, options ...RequestOption) *Request {
	r := &Request{
		ID:           uuid.New().String(),
		URL:          target,
		Method:       strings.ToUpper(method),
		Headers:      NewHeaders(nil),
		ResponseType: ResponseTypeJSON,
	}
	if MightHaveBody(r.Method) {
		r.Body = bufferBody(body)
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Clone returns a copy of the request with the given overrides applied.
// Every field not named by an option keeps the original's value; the original is unchanged.
func (r *Request) Clone(options ...RequestOption) *Request {
	clone := *r
	clone.Params = copyValues(r.Params)
	for _, opt := range options {
		opt(&clone)
	}
	return &clone
}

// URLWithParams returns the URL with the query parameters encoded onto it
func (r *Request) URLWithParams() string {
	if len(r.Params) == 0 {
		return r.URL
	}

	encoded := r.Params.Encode()
	qIdx := strings.Index(r.URL, "?")
	switch {
	case qIdx == -1:
		return r.URL + "?" + encoded
	case qIdx < len(r.URL)-1 && !strings.HasSuffix(r.URL, "&"):
		return r.URL + "&" + encoded
	default:
		return r.URL + encoded
	}
}

// MightHaveBody reports whether requests with the given method carry a body
func MightHaveBody(method string) bool {
	switch strings.ToUpper(method) {
	case "DELETE", "GET", "HEAD", "OPTIONS", "JSONP":
		return false
	default:
		return true
	}
}

func copyValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
