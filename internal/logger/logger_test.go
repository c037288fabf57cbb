package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/timeline-summary/internal/config"
)

func TestSetup_Production(t *testing.T) {
	var buf bytes.Buffer
	log := setup(&config.Config{Environment: "production", LogLevel: slog.LevelInfo}, &buf)

	WithMatch(WithRequestID(log, "req-1"), "m1").Info("hello")
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "m1", entry["match"])
}

func TestSetup_Development(t *testing.T) {
	var buf bytes.Buffer
	log := setup(&config.Config{Environment: "development", LogLevel: slog.LevelDebug}, &buf)
	log.Debug("visible", "k", "v")

	assert.True(t, strings.Contains(buf.String(), "msg=visible"))
	assert.True(t, strings.Contains(buf.String(), "k=v"))
}
