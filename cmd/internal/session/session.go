package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"tether/cmd/identity"
	"tether/cmd/identity/ids"
	"tether/cmd/internal/fault"
	"tether/cmd/internal/target"
)

// DefaultAuthUserAgent is reported in the AUTH result unless Config overrides it.
const DefaultAuthUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// ErrPingIDReused is returned if the id source hands out an id the session already sent.
var ErrPingIDReused = errors.New("ping id reused")

// Config is shared by every session of a run. Zero fields take defaults.
type Config struct {
	Device        identity.Device
	AuthUserAgent string
	Windows       Windows

	Log      *slog.Logger
	Observer Observer

	// Test seams.
	Sleep SleepFunc
	IntN  func(n int) int
	Now   func() time.Time
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.AuthUserAgent == "" {
		c.AuthUserAgent = DefaultAuthUserAgent
	}
	if c.Windows == (Windows{}) {
		c.Windows = DefaultWindows
	}
	if c.Log == nil {
		c.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.Sleep == nil {
		c.Sleep = Sleep
	}
	if c.IntN == nil {
		c.IntN = defaultIntN
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = ids.NewUUID
	}
	return c
}

// Session is one protocol run against one target.
type Session struct {
	id     string
	target target.Target
	cfg    Config
	log    *slog.Logger

	state atomic.Uint32
	pings map[string]struct{}
}

// New prepares a session for t. Nothing is dialled until Run.
func New(t target.Target, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	if cfg.Device.DeviceID == "" || cfg.Device.UserID == "" {
		return nil, fault.Configuration("session.New", "incomplete device identity")
	}
	if t.Endpoint == nil {
		return nil, fault.Configuration("session.New", "missing endpoint")
	}

	id, err := ids.NewULID(cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	return &Session{
		id:     id,
		target: t,
		cfg:    cfg,
		log:    cfg.Log.With("session_id", id, "target", t),
		pings:  make(map[string]struct{}),
	}, nil
}

// ID is the session's run id (ULID).
func (s *Session) ID() string { return s.id }

// Target is the session's target.
func (s *Session) Target() target.Target { return s.target }

// State is the current state; safe to call from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Run opens a channel through open, performs the handshake and keeps the
// heartbeat going until an error or ctx cancellation. The channel is closed
// exactly once before Run returns.
//
// The returned error is never nil. The session ends in StateClosed when ctx
// was cancelled and StateFailed otherwise.
func (s *Session) Run(ctx context.Context, open Opener) (err error) {
	s.cfg.Observer.SessionStarted(Info{SessionID: s.id, Target: s.target, At: s.cfg.Now()})
	s.log.Debug("session.start")

	defer func() { s.finish(ctx, err) }()

	ch, err := open.Open(ctx, s.target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			s.log.Debug("session.close.fail", "err", cerr)
		}
	}()

	if err := s.handshake(ctx, ch); err != nil {
		return err
	}
	return s.heartbeat(ctx, ch)
}

func (s *Session) handshake(ctx context.Context, ch Channel) error {
	if err := s.ping(ctx, ch); err != nil {
		return err
	}
	s.transition(StateAwaitChallenge)

	m, err := s.receive(ctx, ch, v1.KindAuthChallenge)
	if err != nil {
		return err
	}

	if err := s.pause(ctx, s.cfg.Windows.BeforeAuth); err != nil {
		return err
	}

	auth := v1.NewAuth(m.CorrelationID(), v1.AuthResult{
		BrowserID:  s.cfg.Device.DeviceID,
		UserID:     s.cfg.Device.UserID,
		UserAgent:  s.cfg.AuthUserAgent,
		Timestamp:  s.cfg.Now().Unix(),
		DeviceType: v1.DeviceType,
		Version:    v1.ExtensionVersion,
	})
	if err := s.send(ctx, ch, auth); err != nil {
		return err
	}
	s.transition(StateAuthenticating)
	s.log.Info("session.authenticated")
	return nil
}

func (s *Session) heartbeat(ctx context.Context, ch Channel) error {
	w := s.cfg.Windows
	for {
		s.transition(StateAwaitHeartbeat)
		m, err := s.receive(ctx, ch, v1.KindHeartbeatChallenge)
		if err != nil {
			return err
		}

		if err := s.pause(ctx, w.BeforePong); err != nil {
			return err
		}
		if err := s.send(ctx, ch, v1.NewPong(m.CorrelationID())); err != nil {
			return err
		}
		s.transition(StateAcked)

		if err := s.pause(ctx, w.PingInterval); err != nil {
			return err
		}
		if err := s.ping(ctx, ch); err != nil {
			return err
		}
		s.transition(StateHeartbeatSent)

		if err := s.pause(ctx, w.AfterPing); err != nil {
			return err
		}
	}
}

func (s *Session) ping(ctx context.Context, ch Channel) error {
	id := s.cfg.NewID()
	if _, dup := s.pings[id]; dup {
		return fault.Protocol("session.ping", fmt.Errorf("%w: %s", ErrPingIDReused, id))
	}
	s.pings[id] = struct{}{}
	return s.send(ctx, ch, v1.NewPing(id))
}

func (s *Session) send(ctx context.Context, ch Channel, m v1.Message) error {
	if err := ch.Send(ctx, m); err != nil {
		return err
	}
	s.cfg.Observer.MessageObserved(MessageEvent{
		SessionID: s.id,
		Target:    s.target,
		Direction: Outbound,
		Kind:      m.Kind(),
		ID:        m.CorrelationID(),
		At:        s.cfg.Now(),
	})
	s.log.Debug("session.send", "kind", m.Kind().String(), "id", m.CorrelationID())
	return nil
}

func (s *Session) receive(ctx context.Context, ch Channel, want v1.Kind) (v1.Message, error) {
	m, err := ch.Receive(ctx, want)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Kind() != want {
		return nil, fault.Protocol("session.receive", fmt.Errorf("%w: got %v want %s", v1.ErrUnknownShape, kindOf(m), want))
	}
	s.cfg.Observer.MessageObserved(MessageEvent{
		SessionID: s.id,
		Target:    s.target,
		Direction: Inbound,
		Kind:      m.Kind(),
		ID:        m.CorrelationID(),
		At:        s.cfg.Now(),
	})
	s.log.Debug("session.recv", "kind", m.Kind().String(), "id", m.CorrelationID())
	return m, nil
}

func (s *Session) pause(ctx context.Context, w Window) error {
	if err := s.cfg.Sleep(ctx, w.Draw(s.cfg.IntN)); err != nil {
		return fault.Transport("session.pause", err)
	}
	return nil
}

func (s *Session) transition(to State) {
	from := State(s.state.Swap(uint32(to)))
	s.cfg.Observer.StateChanged(Transition{
		SessionID: s.id,
		Target:    s.target,
		From:      from,
		To:        to,
		At:        s.cfg.Now(),
	})
	s.log.Debug("session.state", "from", from.String(), "to", to.String())
}

// finish records the terminal state for err. Reporting is left to the caller.
func (s *Session) finish(ctx context.Context, err error) {
	to := StateFailed
	if ctx.Err() != nil {
		to = StateClosed
	}

	from := State(s.state.Swap(uint32(to)))
	s.cfg.Observer.StateChanged(Transition{
		SessionID: s.id,
		Target:    s.target,
		From:      from,
		To:        to,
		At:        s.cfg.Now(),
		Err:       err,
	})

	s.log.Debug("session.end", "from", from.String(), "to", to.String(), "kind", fault.Kind(err))
}

func kindOf(m v1.Message) any {
	if m == nil {
		return "nil"
	}
	return m.Kind()
}
