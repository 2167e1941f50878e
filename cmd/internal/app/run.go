package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/tether.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	cfg, err := ParseFlags("tether", args, LoadConfig(), os.Stderr)
	if err != nil {
		if errors.Is(err, ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer := NewLogger(LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Color:  colorEnabled(),
	})
	defer func() { _ = closer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.configure.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
