package contracts

import "fmt"

// EventType discriminates the lifecycle events a request produces
type EventType int

const (
	// EventSent marks the request as dispatched to the transport
	EventSent EventType = iota
	// EventUploadProgress reports request body upload progress
	EventUploadProgress
	// EventResponseHeader carries status and headers before the body arrives
	EventResponseHeader
	// EventDownloadProgress reports response body download progress
	EventDownloadProgress
	// EventResponse is a complete response
	EventResponse
	// EventUser is a custom event emitted by an interceptor
	EventUser
)

func (t EventType) String() string {
	switch t {
	case EventSent:
		return "sent"
	case EventUploadProgress:
		return "upload-progress"
	case EventResponseHeader:
		return "response-header"
	case EventDownloadProgress:
		return "download-progress"
	case EventResponse:
		return "response"
	case EventUser:
		return "user"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is one point in a request's lifecycle
type Event interface {
	EventType() EventType
}

// SentEvent signals that the request left the client
type SentEvent struct{}

// EventType implements Event
func (SentEvent) EventType() EventType { return EventSent }

// ProgressEvent reports upload or download progress.
// Total is zero when the size is unknown.
type ProgressEvent struct {
	Type   EventType
	Loaded int64
	Total  int64
}

// EventType implements Event
func (e ProgressEvent) EventType() EventType { return e.Type }

// HeaderResponse carries the status line and headers of a response without its body
type HeaderResponse struct {
	Status     int
	StatusText string
	Headers    Headers
	URL        string
}

// EventType implements Event
func (HeaderResponse) EventType() EventType { return EventResponseHeader }

// OK reports a 2xx status
func (h HeaderResponse) OK() bool {
	return h.Status >= 200 && h.Status < 300
}

// Response is a full response including the decoded body.
// A stream may legitimately carry several Responses for one request.
type Response struct {
	Status     int
	StatusText string
	Headers    Headers
	URL        string
	Body       any
}

// EventType implements Event
func (*Response) EventType() EventType { return EventResponse }

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns a shallow copy with a new body
func (r *Response) Clone(body any) *Response {
	out := *r
	out.Body = body
	return &out
}

// UserEvent is an application-defined event injected by an interceptor
type UserEvent struct {
	Name    string
	Payload any
}

// EventType implements Event
func (UserEvent) EventType() EventType { return EventUser }

// AsResponse returns the event as a *Response when it is one
func AsResponse(e Event) (*Response, bool) {
	r, ok := e.(*Response)
	return r, ok && r != nil
}
