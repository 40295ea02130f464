// Package httptransport is the net/http Backend for the interceptor chain.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/glimte/mmate-http/contracts"
	"github.com/glimte/mmate-http/stream"
)

const (
	defaultAccept    = "application/json, text/plain, */*"
	defaultChunkSize = 32 * 1024
)

// Backend sends requests with net/http and reports their lifecycle as events:
// Sent, then UploadProgress, ResponseHeader and DownloadProgress when the request
// asks for progress, then the final Response. Non-2xx statuses fail the stream
// with a *contracts.HTTPError.
type Backend struct {
	client    *http.Client
	baseURL   *url.URL
	chunkSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures the backend
type Option func(*Backend)

// WithHTTPClient uses client as is, without adding instrumentation
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithTransport instruments rt with OpenTelemetry and uses it for requests
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Backend) {
		b.client = &http.Client{Transport: otelhttp.NewTransport(rt)}
	}
}

// WithBaseURL resolves relative request URLs against base
func WithBaseURL(base string) Option {
	return func(b *Backend) {
		if u, err := url.Parse(base); err == nil {
			b.baseURL = u
		}
	}
}

// WithTimeout bounds each round trip including the body read
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// WithChunkSize sets the read size between download progress events
func WithChunkSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackend creates an HTTP backend. The default client's transport is
// instrumented with otelhttp.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		chunkSize: defaultChunkSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.timeout > 0 {
		client := *b.client
		client.Timeout = b.timeout
		b.client = &client
	}

	return b
}

// Name implements interceptors.Backend
func (b *Backend) Name() string {
	return "http"
}

// Close releases idle connections
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// Handle implements interceptors.Handler
func (b *Backend) Handle(req *contracts.Request) stream.Stream[contracts.Event] {
	return func(ctx context.Context, yield func(contracts.Event) error) error {
		httpReq, uploadSize, err := b.newHTTPRequest(ctx, req)
		if err != nil {
			return err
		}

		if err := yield(contracts.SentEvent{}); err != nil {
			return err
		}

		resp, err := b.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http %s %s: %w", req.Method, httpReq.URL.Redacted(), err)
		}
		defer func() { _ = resp.Body.Close() }()

		responseURL := httpReq.URL.String()
		if resp.Request != nil && resp.Request.URL != nil {
			responseURL = resp.Request.URL.String()
		}
		headers := contracts.HeadersFromHTTP(resp.Header)
		statusText := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))

		if req.ReportProgress {
			if uploadSize > 0 {
				if err := yield(contracts.ProgressEvent{
					Type:   contracts.EventUploadProgress,
					Loaded: uploadSize,
					Total:  uploadSize,
				}); err != nil {
					return err
				}
			}
			if err := yield(contracts.HeaderResponse{
				Status:     resp.StatusCode,
				StatusText: statusText,
				Headers:    headers,
				URL:        responseURL,
			}); err != nil {
				return err
			}
		}

		raw, err := b.readBody(ctx, resp, req.ReportProgress, yield)
		if err != nil {
			return err
		}

		response := &contracts.Response{
			Status:     resp.StatusCode,
			StatusText: statusText,
			Headers:    headers,
			URL:        responseURL,
		}

		body, decodeErr := contracts.DecodeBody(raw, req.ResponseType)
		if !response.OK() {
			if decodeErr != nil {
				body = string(raw)
			}
			response.Body = body
			b.logger.DebugContext(ctx, "http error response",
				"requestId", req.ID,
				"status", resp.StatusCode,
				"url", responseURL,
			)
			return contracts.NewHTTPError(response)
		}
		if decodeErr != nil {
			return fmt.Errorf("http %s %s: %w", req.Method, responseURL, decodeErr)
		}

		response.Body = body
		return yield(response)
	}
}

func (b *Backend) newHTTPRequest(ctx context.Context, req *contracts.Request) (*http.Request, int64, error) {
	target, err := b.resolve(req.URLWithParams())
	if err != nil {
		return nil, 0, fmt.Errorf("invalid request url %q: %w", req.URL, err)
	}

	payload, err := req.SerializeBody()
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build http request: %w", err)
	}

	httpReq.Header = req.Headers.HTTPHeader()
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		if ct := req.DetectContentType(); ct != "" {
			httpReq.Header.Set("Content-Type", ct)
		}
	}

	return httpReq, int64(len(payload)), nil
}

func (b *Backend) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.IsAbs() || b.baseURL == nil {
		if !u.IsAbs() {
			return "", errors.New("relative url without a base url")
		}
		return u.String(), nil
	}
	return b.baseURL.ResolveReference(u).String(), nil
}

// readBody reads the response body, emitting DownloadProgress after each chunk when asked
func (b *Backend) readBody(ctx context.Context, resp *http.Response, progress bool, yield func(contracts.Event) error) ([]byte, error) {
	if !progress {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return data, nil
	}

	var (
		buf    bytes.Buffer
		chunk  = make([]byte, b.chunkSize)
		loaded int64
		total  = resp.ContentLength
	)
	if total < 0 {
		total = 0
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			loaded += int64(n)
			if yieldErr := yield(contracts.ProgressEvent{
				Type:   contracts.EventDownloadProgress,
				Loaded: loaded,
				Total:  total,
			}); yieldErr != nil {
				return nil, yieldErr
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}
}
