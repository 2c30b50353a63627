package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	logger.Info("engine started", slog.String("component", "test"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "engine started", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestSetupNoFileLogsToStderr(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "debug"})
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run("level_"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFromString(tt.in))
		})
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force the size limit low so a couple of writes trigger rotation.
	w.maxSize = 64

	payload := []byte(strings.Repeat("x", 48) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(payload)
		require.NoError(t, err)
	}

	rotated := RotatedFiles(path)
	assert.NotEmpty(t, rotated, "expected at least one rotated file")

	_, err = os.Stat(path)
	assert.NoError(t, err, "active log file should exist after rotation")
}

func TestComponentLogger(t *testing.T) {
	logger := Component(nil, "indexer")
	require.NotNil(t, logger)
}
