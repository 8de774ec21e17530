package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf).With("component", "test")

	l.Info().Msg("dropped")
	l.Warn().Str("key", "value").Int("n", 3).Err(errors.New("boom")).Msg("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "test", lines[0]["component"])
	assert.Equal(t, "value", lines[0]["key"])
	assert.Equal(t, float64(3), lines[0]["n"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug"}, &buf)

	ctx := ContextWithSession(context.Background(), "s1", "c1")
	l.WithContext(ctx).Debug().Msg("hello")
	l.WithContext(context.Background()).Debug().Msg("bare")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "s1", lines[0]["session_id"])
	assert.Equal(t, "c1", lines[0]["conversation_id"])
	assert.NotContains(t, lines[1], "session_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
	assert.Equal(t, "warn", ParseLevel("warning").String())
	assert.Equal(t, "error", ParseLevel("error").String())
	assert.Equal(t, "info", ParseLevel("nonsense").String())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	var buf bytes.Buffer
	l := NewWithWriter(Config{}, &buf)
	FromContext(ContextWithLogger(context.Background(), l)).Info().Msg("via context")
	assert.Contains(t, buf.String(), "via context")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug"}, &buf)

	var fromCtx Logger
	handler := HTTPMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	require.NotNil(t, fromCtx)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "/readyz", lines[0]["path"])
	assert.Equal(t, float64(503), lines[0]["status"])
	assert.Equal(t, float64(4), lines[0]["bytes"])
}

func TestHTTPMiddleware_GeneratesRequestID(t *testing.T) {
	handler := HTTPMiddleware(NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}
