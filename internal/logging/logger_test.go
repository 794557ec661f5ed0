package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", FormatJSON, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "persona", "safe_analyst")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "safe_analyst", line["persona"])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New("info", FormatText, &buf).Info("round finished", "round", 2)
	assert.Contains(t, buf.String(), "msg=\"round finished\"")
	assert.Contains(t, buf.String(), "round=2")
}

func TestOpenFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, f, err := OpenFile(dir, "debug")
	require.NoError(t, err)
	logger.Debug("hello")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(dir, "consensus.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
