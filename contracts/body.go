package contracts

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"reflect"
)

const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded;charset=UTF-8"
)

// SerializeBody renders the body into bytes for transport.
// Byte slices and strings pass through, url.Values are form encoded and
// everything else is encoded as JSON. A nil body yields nil.
func (r *Request) SerializeBody() ([]byte, error) {
	return SerializeBody(r.Body)
}

// DetectContentType infers a Content-Type from the body, or "" when the body
// is absent or binary and the decision is left to the backend.
func (r *Request) DetectContentType() string {
	return DetectContentType(r.Body)
}

// SerializeBody is the free-standing form of Request.SerializeBody
func SerializeBody(body any) ([]byte, error) {
	if isNil(body) {
		return nil, nil
	}

	switch b := body.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	case url.Values:
		return []byte(b.Encode()), nil
	case bodyReadError:
		return nil, b.err
	case io.Reader:
		// only reachable for a Request built as a literal; NewRequest and
		// WithBody buffer readers up front
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return data, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request body: %w", err)
	}
	return data, nil
}

// DetectContentType is the free-standing form of Request.DetectContentType
func DetectContentType(body any) string {
	if isNil(body) {
		return ""
	}

	switch body.(type) {
	case []byte, io.Reader, bodyReadError:
		return ""
	case json.RawMessage:
		return ContentTypeJSON
	case string:
		return ContentTypeText
	case url.Values:
		return ContentTypeForm
	}

	v := reflect.ValueOf(body)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return ContentTypeJSON
	default:
		return ""
	}
}

// bodyReadError stands in for a reader body that could not be buffered; the
// error surfaces when the body is serialized.
type bodyReadError struct {
	err error
}

// bufferBody drains reader bodies into a byte slice so the request can be
// serialized any number of times. Other bodies are returned unchanged.
func bufferBody(body any) any {
	r, ok := body.(io.Reader)
	if !ok || isNil(body) {
		return body
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return bodyReadError{err: fmt.Errorf("failed to read request body: %w", err)}
	}
	return data
}

func isNil(body any) bool {
	if body == nil {
		return true
	}
	v := reflect.ValueOf(body)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// DecodeBody converts raw response bytes into the shape named by rt.
// JSON bodies that fail to parse are returned as an error; an empty JSON body decodes to nil.
func DecodeBody(data []byte, rt ResponseType) (any, error) {
	switch rt {
	case ResponseTypeText:
		return string(data), nil
	case ResponseTypeBlob, ResponseTypeArrayBuffer:
		return data, nil
	}

	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response body as json: %w", err)
	}
	return out, nil
}
