package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestNilLoggerIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Nil(t, EnrichLogger(nil, "m", "page"))
		LogDispatch(nil, "page", "m", 1, 1)
		LogBlocked(nil, "page", "m", "r", "not-accepted")
		LogRedacted(nil, "page", "m", "properties", []string{"a"})
		LogPluginError(nil, "p", "page", errors.New("x"))
		LogPluginReady(nil, "p")
		LogProfileResolved(nil, "p", "a", 1)
		LogProfileError(nil, "resolve", errors.New("x"))
		LogConsentChanged(nil, "a", "b")
	})
}

func TestEnrichLogger(t *testing.T) {
	logger, buf := newJSONLogger()

	EnrichLogger(logger, "msg-1", "track").Info("hello")

	rec := lastRecord(t, buf)
	assert.Equal(t, "msg-1", rec["message_id"])
	assert.Equal(t, "track", rec["event_type"])
}

func TestLogBlocked(t *testing.T) {
	logger, buf := newJSONLogger()

	LogBlocked(logger, "track", "msg-1", "event type not allowed", "not-accepted")

	rec := lastRecord(t, buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "event blocked by consent policy", rec["msg"])
	assert.Equal(t, "event type not allowed", rec["reason"])
	assert.Equal(t, "not-accepted", rec["consent"])
}

func TestLogRedacted(t *testing.T) {
	logger, buf := newJSONLogger()

	LogRedacted(logger, "page", "msg-1", "properties", nil)
	assert.Empty(t, buf.String(), "nothing dropped means nothing logged")

	LogRedacted(logger, "page", "msg-1", "properties", []string{"email", "phone"})
	rec := lastRecord(t, buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "properties", rec["field"])
	assert.Equal(t, []any{"email", "phone"}, rec["dropped"])
}

func TestLogPluginError(t *testing.T) {
	logger, buf := newJSONLogger()

	LogPluginError(logger, "buffer", "track", errors.New("boom"))

	rec := lastRecord(t, buf)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "buffer", rec["plugin"])
	assert.Equal(t, "track", rec["hook"])
	assert.Equal(t, "boom", rec["error"])
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), float64(0))
}
