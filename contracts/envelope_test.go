package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	t.Run("carries the serialized request", func(t *testing.T) {
		req := NewRequest("POST", "/orders", map[string]int{"qty": 2},
			SetHeader("X-Trace", "abc"),
			SetParam("dry", "true"),
		)

		env, err := NewEnvelope(req, "corr-1", "reply-q")
		require.NoError(t, err)

		assert.Equal(t, req.ID, env.ID)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Equal(t, "reply-q", env.ReplyTo)
		assert.Equal(t, "/orders?dry=true", env.URL)
		assert.Equal(t, ContentTypeJSON, env.ContentType)
		assert.JSONEq(t, `{"qty":2}`, string(env.Body))

		back := env.Request()
		assert.Equal(t, "POST", back.Method)
		assert.Equal(t, "abc", back.Headers.Get("x-trace"))
		assert.Equal(t, ResponseTypeJSON, back.ResponseType)
	})

	t.Run("keeps an explicit content type", func(t *testing.T) {
		req := NewRequest("POST", "/x", "raw", SetHeader("Content-Type", "application/xml"))

		env, err := NewEnvelope(req, "c", "r")
		require.NoError(t, err)
		assert.Equal(t, "application/xml", env.ContentType)
	})
}

func TestEventEnvelope(t *testing.T) {
	headers := NewHeaders(map[string]string{"Content-Type": "application/json"})

	events := []Event{
		SentEvent{},
		ProgressEvent{Type: EventDownloadProgress, Loaded: 10, Total: 20},
		ProgressEvent{Type: EventUploadProgress, Loaded: 1},
		HeaderResponse{Status: 200, StatusText: "OK", URL: "/x", Headers: headers},
		&Response{Status: 201, StatusText: "Created", URL: "/x", Headers: headers, Body: map[string]any{"id": "42"}},
		UserEvent{Name: "cache-hit", Payload: "yes"},
	}

	for _, event := range events {
		t.Run(event.EventType().String(), func(t *testing.T) {
			env, err := EncodeEvent("corr", event, false)
			require.NoError(t, err)

			data, err := json.Marshal(env)
			require.NoError(t, err)

			var decoded EventEnvelope
			require.NoError(t, json.Unmarshal(data, &decoded))

			got, err := decoded.Decode()
			require.NoError(t, err)
			assert.Equal(t, event.EventType(), got.EventType())
			assert.Equal(t, "corr", decoded.CorrelationID)

			if resp, ok := AsResponse(event); ok {
				gotResp, ok := AsResponse(got)
				require.True(t, ok)
				assert.Equal(t, resp.Status, gotResp.Status)
				assert.Equal(t, resp.Body, gotResp.Body)
				assert.True(t, resp.Headers.Equal(gotResp.Headers))
			}
		})
	}

	t.Run("keeps byte and text response bodies apart", func(t *testing.T) {
		for _, body := range []any{[]byte{1, 2, 3}, "AQID"} {
			env, err := EncodeEvent("corr", &Response{Status: 200, Body: body}, true)
			require.NoError(t, err)

			data, err := json.Marshal(env)
			require.NoError(t, err)
			var decoded EventEnvelope
			require.NoError(t, json.Unmarshal(data, &decoded))

			got, err := decoded.Decode()
			require.NoError(t, err)
			assert.Equal(t, body, got.(*Response).Body)
		}
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		_, err := (&EventEnvelope{Type: "bogus"}).Decode()
		assert.Error(t, err)
	})
}

func TestHTTPError(t *testing.T) {
	err := NewHTTPError(&Response{Status: 503, URL: "/svc"})

	assert.Equal(t, "Http failure response for /svc: 503 Service Unavailable", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, 503, StatusCode(err))
	assert.False(t, (&HTTPError{Status: 404}).IsRetryable())
	assert.Equal(t, 0, StatusCode(assert.AnError))
}
