package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// Rotation limits for --log-file.
const (
	logFileMaxSizeMB  = 50
	logFileMaxBackups = 5
	logFileMaxAgeDays = 14
)

// LogOptions selects the console format and the optional rotating file.
type LogOptions struct {
	Level  string
	Format string // json (default), text or pretty
	File   string
	Color  bool
}

// NewLogger creates the process logger and sets it as the slog default.
// The returned closer flushes and closes the log file, if any.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer) {
	return newLogger(os.Stdout, opts)
}

func newLogger(stdout io.Writer, opts LogOptions) (*slog.Logger, io.Closer) {
	hopts := &slog.HandlerOptions{
		Level:     parseLogLevel(opts.Level),
		AddSource: true,
	}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "pretty":
		console = newPrettyHandler(stdout, hopts, opts.Color)
	case "text":
		console = slog.NewTextHandler(stdout, hopts)
	default:
		console = slog.NewJSONHandler(stdout, hopts)
	}

	var closer io.Closer = nopCloser{}
	h := console
	if file := strings.TrimSpace(opts.File); file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
			Compress:   true,
		}
		closer = lj
		h = fanoutHandler{console, slog.NewJSONHandler(lj, hopts)}
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log, closer
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorEnabled reports whether stdout looks like a terminal and NO_COLOR is unset.
func colorEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
