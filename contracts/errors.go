package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is the stream failure for a response whose status is outside 2xx
type HTTPError struct {
	Status     int
	StatusText string
	URL        string
	Headers    Headers
	Body       any
}

// NewHTTPError builds an HTTPError from a received response
func NewHTTPError(resp *Response) *HTTPError {
	return &HTTPError{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		URL:        resp.URL,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	url := e.URL
	if url == "" {
		url = "(unknown url)"
	}
	return fmt.Sprintf("Http failure response for %s: %d %s", url, e.Status, text)
}

// IsRetryable reports whether repeating the request may succeed
func (e *HTTPError) IsRetryable() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}

// StatusCode extracts the HTTP status from an error chain, or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
