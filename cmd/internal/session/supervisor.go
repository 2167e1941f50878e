package session

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"tether/cmd/internal/fault"
	"tether/cmd/internal/target"
)

// DefaultMaxConcurrentDials caps simultaneous handshakes.
const DefaultMaxConcurrentDials = 64

// Supervisor runs one Session per target and isolates their failures.
type Supervisor struct {
	log   *slog.Logger
	open  Opener
	cfg   Config
	dials *semaphore.Weighted
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxConcurrentDials bounds how many targets may be opening a channel at
// once. Values <= 0 keep the default.
func WithMaxConcurrentDials(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.dials = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewSupervisor constructs a Supervisor. cfg is the template for every session.
func NewSupervisor(log *slog.Logger, open Opener, cfg Config, opts ...SupervisorOption) *Supervisor {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.Log == nil {
		cfg.Log = log
	}
	s := &Supervisor{
		log:   log,
		open:  open,
		cfg:   cfg,
		dials: semaphore.NewWeighted(DefaultMaxConcurrentDials),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run starts a session for every target and returns once all of them have
// ended. A failing session never stops its siblings and Run never fails;
// cancelling ctx ends every session.
func (s *Supervisor) Run(ctx context.Context, targets []target.Target) {
	start := time.Now()
	s.log.Info("supervisor.start", "targets", len(targets))

	// Plain errgroup (no WithContext): one unit's error must not cancel the others.
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			s.runUnit(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("supervisor.done", "targets", len(targets), "duration_ms", time.Since(start).Milliseconds())
}

// runUnit is the per-target boundary: nothing escapes it.
func (s *Supervisor) runUnit(ctx context.Context, t target.Target) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session.panic", "target", t, "panic", r)
		}
	}()

	sess, err := New(t, s.cfg)
	if err != nil {
		s.log.Error("session.fail", "target", t, "kind", fault.Kind(err), "err", err)
		return
	}

	err = sess.Run(ctx, OpenerFunc(s.openBounded))

	if sess.State() == StateClosed {
		s.log.Info("session.closed", "session_id", sess.ID(), "target", t)
		return
	}
	s.log.Error("session.fail",
		"session_id", sess.ID(),
		"target", t,
		"kind", fault.Kind(err),
		"err", err,
	)
}

// openBounded holds a dial slot only while the channel is being opened.
func (s *Supervisor) openBounded(ctx context.Context, t target.Target) (Channel, error) {
	if err := s.dials.Acquire(ctx, 1); err != nil {
		return nil, fault.Transport("supervisor.open", err)
	}
	defer s.dials.Release(1)

	return s.open.Open(ctx, t)
}
