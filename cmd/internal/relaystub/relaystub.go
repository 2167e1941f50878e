// Package relaystub is a local stand-in for the remote relay: it answers the
// handshake, issues heartbeat challenges and checks every client reply.
//
// It backs the end-to-end tests and cmd/relay-stub.
package relaystub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	v1 "tether/shared/contracts/relay/v1"
)

const maxReadBytes = 1 << 16

// Options tunes the stub's behaviour. The zero value runs an endless, well-behaved relay.
type Options struct {
	// HeartbeatDelay is waited after each client PING before the next challenge.
	HeartbeatDelay time.Duration
	// MaxHeartbeats closes the connection (going away) after that many PONGs. 0 means no limit.
	MaxHeartbeats int
	// MalformedAfter sends a non-JSON challenge after that many PONGs. 0 disables it.
	MalformedAfter int

	Log   *slog.Logger
	NewID func() string
}

// Handshake records one successful authentication.
type Handshake struct {
	UserAgent string
	Auth      v1.AuthResult
	At        time.Time
}

// Stats are cumulative counters over every connection.
type Stats struct {
	Accepted      int64
	Authenticated int64
	ClientPings   int64
	Pongs         int64
	Violations    int64
}

// Server is an http.Handler speaking the relay side of the protocol.
type Server struct {
	opts Options

	accepted      atomic.Int64
	authenticated atomic.Int64
	pings         atomic.Int64
	pongs         atomic.Int64
	violations    atomic.Int64

	mu         sync.Mutex
	handshakes []Handshake
}

// ErrViolation marks a client reply that breaks the protocol.
var ErrViolation = errors.New("protocol violation")

// New constructs a Server.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Server{opts: opts}
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:      s.accepted.Load(),
		Authenticated: s.authenticated.Load(),
		ClientPings:   s.pings.Load(),
		Pongs:         s.pongs.Load(),
		Violations:    s.violations.Load(),
	}
}

// Handshakes returns every authentication seen so far, oldest first.
func (s *Server) Handshakes() []Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handshake(nil), s.handshakes...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.opts.Log.Warn("stub.accept.fail", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(maxReadBytes)

	s.accepted.Add(1)
	log := s.opts.Log.With("remote", r.RemoteAddr)
	log.Info("stub.accept", "user_agent", r.UserAgent())

	err = s.serve(r.Context(), c, r.UserAgent(), log)
	switch {
	case errors.Is(err, ErrViolation):
		s.violations.Add(1)
		log.Warn("stub.violation", "err", err)
		_ = c.Close(websocket.StatusPolicyViolation, "protocol violation")
	case err != nil:
		log.Info("stub.disconnect", "err", err)
	}
}

func (s *Server) serve(ctx context.Context, c *websocket.Conn, ua string, log *slog.Logger) error {
	if _, err := read(ctx, c, v1.KindPing); err != nil {
		return err
	}
	s.pings.Add(1)

	challenge := v1.AuthChallenge{ID: s.opts.NewID(), Action: v1.OriginActionAuth}
	if err := write(ctx, c, challenge); err != nil {
		return err
	}
	m, err := read(ctx, c, v1.KindAuth)
	if err != nil {
		return err
	}
	auth := m.(v1.Auth)
	if auth.ID != challenge.ID {
		return fmt.Errorf("%w: auth id %q does not answer challenge %q", ErrViolation, auth.ID, challenge.ID)
	}
	if auth.Result.UserID == "" || auth.Result.BrowserID == "" {
		return fmt.Errorf("%w: auth result without user or browser id", ErrViolation)
	}

	s.authenticated.Add(1)
	s.mu.Lock()
	s.handshakes = append(s.handshakes, Handshake{UserAgent: ua, Auth: auth.Result, At: time.Now()})
	s.mu.Unlock()
	log.Info("stub.authenticated", "user_id", auth.Result.UserID, "browser_id", auth.Result.BrowserID)

	for n := 0; ; n++ {
		if s.opts.MaxHeartbeats > 0 && n >= s.opts.MaxHeartbeats {
			log.Info("stub.heartbeat.limit", "pongs", n)
			return c.Close(websocket.StatusGoingAway, "heartbeat limit")
		}
		if s.opts.MalformedAfter > 0 && n >= s.opts.MalformedAfter {
			log.Info("stub.malformed.send", "pongs", n)
			if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
				return err
			}
			// The client is expected to hang up.
			_, _, err := c.Read(ctx)
			return err
		}

		hb := v1.HeartbeatChallenge{ID: s.opts.NewID(), Action: v1.ActionPing}
		if err := write(ctx, c, hb); err != nil {
			return err
		}
		m, err := read(ctx, c, v1.KindPong)
		if err != nil {
			return err
		}
		if m.CorrelationID() != hb.ID {
			return fmt.Errorf("%w: pong id %q does not answer heartbeat %q", ErrViolation, m.CorrelationID(), hb.ID)
		}
		s.pongs.Add(1)

		if _, err := read(ctx, c, v1.KindPing); err != nil {
			return err
		}
		s.pings.Add(1)

		if s.opts.HeartbeatDelay > 0 {
			t := time.NewTimer(s.opts.HeartbeatDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

func read(ctx context.Context, c *websocket.Conn, want v1.Kind) (v1.Message, error) {
	typ, data, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: binary frame while waiting for %s", ErrViolation, want)
	}
	m, err := v1.Decode(data, want)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrViolation, want, err)
	}
	return m, nil
}

func write(ctx context.Context, c *websocket.Conn, m v1.Message) error {
	b, err := v1.Encode(m)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}
