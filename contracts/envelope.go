package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps a Request for message-based transports
type Envelope struct {
	ID              string              `json:"id"`
	Timestamp       string              `json:"timestamp"`
	CorrelationID   string              `json:"correlationId,omitempty"`
	ReplyTo         string              `json:"replyTo,omitempty"`
	Method          string              `json:"method"`
	URL             string              `json:"url"`
	Headers         map[string][]string `json:"headers,omitempty"`
	ContentType     string              `json:"contentType,omitempty"`
	ResponseType    ResponseType        `json:"responseType,omitempty"`
	ReportProgress  bool                `json:"reportProgress,omitempty"`
	WithCredentials bool                `json:"withCredentials,omitempty"`
	Body            []byte              `json:"body,omitempty"`
}

// NewEnvelope serializes a request into an envelope
func NewEnvelope(req *Request, correlationID, replyTo string) (*Envelope, error) {
	body, err := req.SerializeBody()
	if err != nil {
		return nil, err
	}

	contentType := req.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = req.DetectContentType()
	}

	return &Envelope{
		ID:              req.ID,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID:   correlationID,
		ReplyTo:         replyTo,
		Method:          req.Method,
		URL:             req.URLWithParams(),
		Headers:         req.Headers.HTTPHeader(),
		ContentType:     contentType,
		ResponseType:    req.ResponseType,
		ReportProgress:  req.ReportProgress,
		WithCredentials: req.WithCredentials,
		Body:            body,
	}, nil
}

// Request rebuilds the request carried by the envelope. The body stays as raw bytes.
func (e *Envelope) Request() *Request {
	headers := NewHeaders(nil)
	for name, values := range e.Headers {
		headers = headers.Set(name, values...)
	}

	req := &Request{
		ID:              e.ID,
		URL:             e.URL,
		Method:          e.Method,
		Headers:         headers,
		ReportProgress:  e.ReportProgress,
		ResponseType:    e.ResponseType,
		WithCredentials: e.WithCredentials,
	}
	if len(e.Body) > 0 {
		req.Body = e.Body
	}
	if req.ResponseType == "" {
		req.ResponseType = ResponseTypeJSON
	}
	return req
}

// EventEnvelope is the wire form of a single Event sent back to the requester.
// Final marks the last envelope for a correlation id; Error fails the stream.
// Binary marks a response body that was a byte slice, carried as base64.
type EventEnvelope struct {
	CorrelationID string              `json:"correlationId"`
	Type          string              `json:"type"`
	Status        int                 `json:"status,omitempty"`
	StatusText    string              `json:"statusText,omitempty"`
	URL           string              `json:"url,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          json.RawMessage     `json:"body,omitempty"`
	Binary        bool                `json:"binary,omitempty"`
	Loaded        int64               `json:"loaded,omitempty"`
	Total         int64               `json:"total,omitempty"`
	Name          string              `json:"name,omitempty"`
	Final         bool                `json:"final,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// EncodeEvent converts an event into its wire form
func EncodeEvent(correlationID string, event Event, final bool) (*EventEnvelope, error) {
	env := &EventEnvelope{
		CorrelationID: correlationID,
		Type:          event.EventType().String(),
		Final:         final,
	}

	switch e := event.(type) {
	case SentEvent:
	case ProgressEvent:
		env.Loaded = e.Loaded
		env.Total = e.Total
	case HeaderResponse:
		env.Status = e.Status
		env.StatusText = e.StatusText
		env.URL = e.URL
		env.Headers = e.Headers.HTTPHeader()
	case *Response:
		env.Status = e.Status
		env.StatusText = e.StatusText
		env.URL = e.URL
		env.Headers = e.Headers.HTTPHeader()
		if e.Body != nil {
			body, err := json.Marshal(e.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode response body: %w", err)
			}
			env.Body = body
			_, env.Binary = e.Body.([]byte)
		}
	case UserEvent:
		env.Name = e.Name
		if e.Payload != nil {
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode user event payload: %w", err)
			}
			env.Body = payload
		}
	default:
		return nil, fmt.Errorf("unsupported event type %T", event)
	}

	return env, nil
}

// Decode converts the wire form back into an Event
func (e *EventEnvelope) Decode() (Event, error) {
	switch e.Type {
	case EventSent.String():
		return SentEvent{}, nil
	case EventUploadProgress.String():
		return ProgressEvent{Type: EventUploadProgress, Loaded: e.Loaded, Total: e.Total}, nil
	case EventDownloadProgress.String():
		return ProgressEvent{Type: EventDownloadProgress, Loaded: e.Loaded, Total: e.Total}, nil
	case EventResponseHeader.String():
		return HeaderResponse{
			Status:     e.Status,
			StatusText: e.StatusText,
			URL:        e.URL,
			Headers:    headersFromMap(e.Headers),
		}, nil
	case EventResponse.String():
		var body any
		if len(e.Body) > 0 {
			var err error
			if e.Binary {
				var raw []byte
				err = json.Unmarshal(e.Body, &raw)
				body = raw
			} else {
				err = json.Unmarshal(e.Body, &body)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to decode response body: %w", err)
			}
		}
		return &Response{
			Status:     e.Status,
			StatusText: e.StatusText,
			URL:        e.URL,
			Headers:    headersFromMap(e.Headers),
			Body:       body,
		}, nil
	case EventUser.String():
		var payload any
		if len(e.Body) > 0 {
			if err := json.Unmarshal(e.Body, &payload); err != nil {
				return nil, fmt.Errorf("failed to decode user event payload: %w", err)
			}
		}
		return UserEvent{Name: e.Name, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

func headersFromMap(m map[string][]string) Headers {
	h := NewHeaders(nil)
	for name, values := range m {
		h = h.Set(name, values...)
	}
	return h
}
