// Package logging builds the process logger: one handler that writes every
// record to the console and to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

// ModuleKey names the component that emitted a record.
const ModuleKey = "module"

// Options configures New.
type Options struct {
	Level      slog.Level
	File       string
	MaxSizeMB  int
	MaxBackups int
	Console    io.Writer
	JSON       bool
}

// OptionsFromConfig maps cfg onto Options. Console output is JSON unless
// stdout is a terminal.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return Options{}, err
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return Options{
		Level:      level,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Console:    os.Stdout,
		JSON:       !isTerminal(os.Stdout),
	}, nil
}

// New returns a logger and the closer for its file sink. The closer must be
// called once the process is done logging.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		out = io.MultiWriter(console, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// For scopes logger to a component.
func For(logger *slog.Logger, module string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String(ModuleKey, module))
}

// ParseLevel accepts debug, info, warn, or error. Empty means debug.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelDebug, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
