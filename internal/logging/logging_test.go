package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/robopanel/internal/config"
)

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.log")
	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Debug("run finished", "run_id", "abc")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "run finished", entry["msg"])
	assert.Equal(t, "abc", entry["run_id"])
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNew_BadOutput(t *testing.T) {
	_, _, err := New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "panel.log")})
	assert.Error(t, err)
}
