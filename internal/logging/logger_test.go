package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docwatch/internal/config"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := console
	console = buf
	t.Cleanup(func() { console = prev })
	return buf
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	out := captureConsole(t)
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "never-created")

	logger, err := NewLogger(cfg, "docwatch")
	require.NoError(t, err)

	logger.With("component", "watch-registry").Info("Watch started", "watch_id", 1)
	logger.Debug("hidden")

	assert.Contains(t, out.String(), "INFO  [watch-registry] Watch started watch_id=1")
	assert.NotContains(t, out.String(), "hidden")
	assert.NoDirExists(t, cfg.Dir)
}

func TestNewLogger_FileSeparation(t *testing.T) {
	captureConsole(t)
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = t.TempDir()
	cfg.File.Enabled = true

	logger, err := NewLogger(cfg, "docwatch-emulator")
	require.NoError(t, err)

	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message", "code", "Unavailable")
	require.NoError(t, Shutdown())

	main, err := os.ReadFile(filepath.Join(cfg.Dir, "docwatch-emulator.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), `"msg":"info message"`)
	assert.Contains(t, string(main), `"msg":"warning message"`)

	errs, err := os.ReadFile(filepath.Join(cfg.Dir, "docwatch-emulator.errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "info message")
	assert.Contains(t, string(errs), "warning message")
	assert.Contains(t, string(errs), `"code":"Unavailable"`)
}

func TestNewLogger_NothingEnabled(t *testing.T) {
	cfg := config.DefaultLoggingConfig()
	cfg.Console.Enabled = false

	logger, err := NewLogger(cfg, "docwatch")
	require.NoError(t, err)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelError))
}

func TestInitialize_SetsDefault(t *testing.T) {
	out := captureConsole(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.DefaultLoggingConfig()
	require.NoError(t, Initialize(cfg, "docwatch"))

	slog.Info("global test message")
	assert.Contains(t, out.String(), "global test message")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}
