package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"CHATSYNC_SOCKET_URL", "CHATSYNC_STORE", "CHATSYNC_BACKOFF_BASE", "CHATSYNC_BACKOFF_MAX", "CHATSYNC_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "ws://localhost:8080/ws", cfg.SocketURL)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATSYNC_STORE", "Memory")
	t.Setenv("CHATSYNC_BACKOFF_BASE", "250ms")
	t.Setenv("CHATSYNC_BACKOFF_MAX", "not-a-duration")
	t.Setenv("CHATSYNC_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CHATSYNC_MODEL_ID=claude-test\n"), 0o600))
	t.Setenv("CHATSYNC_MODEL_ID", "")
	os.Unsetenv("CHATSYNC_MODEL_ID")

	cfg := Load()
	assert.Equal(t, "claude-test", cfg.ModelID)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("frame", "kind", "message_stop")

	assert.Contains(t, stderr.String(), "kind=message_stop")
	assert.Contains(t, file.String(), `"kind":"message_stop"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestSetupFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.log")
	logger, cleanup := SetupFileLogger(path, slog.LevelInfo)
	logger.Info("session selected", "session_id", "s1")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s1"`)
}
