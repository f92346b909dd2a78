package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

func TestNewMirrorsConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "scraper.log")

	logger, closer, err := New(Options{
		Level:      slog.LevelDebug,
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 2,
		Console:    &console,
	})
	require.NoError(t, err)

	For(logger, "scraper").Debug("starting task", slog.Int("task", 3))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, out := range []string{console.String(), string(data)} {
		assert.Contains(t, out, "level=DEBUG")
		assert.Contains(t, out, "module=scraper")
		assert.Contains(t, out, "starting task")
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := New(Options{Level: slog.LevelWarn, Console: &console, JSON: true})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.True(t, strings.Contains(console.String(), `"msg":"shown"`))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "", want: slog.LevelDebug},
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: " warn ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.Verbose = true

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, opts.Level)
	assert.Equal(t, cfg.LogFile, opts.File)
	assert.Equal(t, 10, opts.MaxSizeMB)
	assert.Equal(t, 5, opts.MaxBackups)
}
