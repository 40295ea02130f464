package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/contracts"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Chdir(t.TempDir())

	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPluralCommand(t *testing.T) {
	t.Run("category", func(t *testing.T) {
		out, err := execute(t, "plural", "3", "--locale", "ru")
		require.NoError(t, err)
		assert.Equal(t, "few\n", out)
	})

	t.Run("message", func(t *testing.T) {
		out, err := execute(t, "plural", "5", "--locale", "en",
			"--case", "=0=no files", "--case", "one=# file", "--case", "other=# files")
		require.NoError(t, err)
		assert.Equal(t, "5 files\n", out)
	})

	t.Run("exact match", func(t *testing.T) {
		out, err := execute(t, "plural", "0", "--locale", "en",
			"--case", "=0=no files", "--case", "other=# files")
		require.NoError(t, err)
		assert.Equal(t, "no files\n", out)
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := execute(t, "plural", "many")
		assert.ErrorContains(t, err, `invalid value "many"`)
	})
}

func TestRequestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tenant":"` + r.Header.Get("X-Tenant") + `","q":"` + r.URL.Query().Get("q") + `"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "request", "get", srv.URL, "-H", "X-Tenant: acme", "-p", "q=shoes")
	require.NoError(t, err)

	assert.Contains(t, out, "> sent\n")
	assert.Contains(t, out, "< 200 OK\n")
	assert.Contains(t, out, `"tenant": "acme"`)
	assert.Contains(t, out, `"q": "shoes"`)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mmate-http dev")
}

func TestParseCases(t *testing.T) {
	messages, err := parseCases([]string{"=1=one exactly", "few=a few", "other=#"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"=1": "one exactly", "few": "a few", "other": "#"}, messages)

	for _, bad := range []string{"one", "=message", "==x"} {
		_, err := parseCases([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRequestOptions(t *testing.T) {
	opts, err := requestOptions([]string{"Accept: text/plain"}, []string{"page=2"})
	require.NoError(t, err)

	req := contracts.NewRequest("GET", "/items", nil, opts...)
	assert.Equal(t, "text/plain", req.Headers.Get("Accept"))
	assert.Equal(t, "/items?page=2", req.URLWithParams())

	_, err = requestOptions([]string{"no-colon"}, nil)
	assert.Error(t, err)
	_, err = requestOptions(nil, []string{"=1"})
	assert.Error(t, err)
}

func TestRequestBody(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1.0}, requestBody(`{"a":1}`))
	assert.Equal(t, "plain text", requestBody("plain text"))
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printEvent(&buf, contracts.ProgressEvent{Type: contracts.EventDownloadProgress, Loaded: 5, Total: 10}))
	require.NoError(t, printEvent(&buf, &contracts.Response{Status: 204, StatusText: "No Content"}))
	require.NoError(t, printEvent(&buf, &contracts.Response{Status: 200, StatusText: "OK", Body: "hi"}))

	assert.Equal(t, "> download-progress 5/10\n< 204 No Content\n< 200 OK\nhi\n", buf.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("plain")
	assert.Contains(t, buf.String(), "plain")
	assert.NotContains(t, buf.String(), "\x1b[")

	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
