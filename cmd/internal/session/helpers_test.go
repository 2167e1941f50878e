package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"tether/cmd/identity"
	"tether/cmd/internal/fault"
	"tether/cmd/internal/target"
)

var testDevice = identity.Device{DeviceID: "0b8e6f0c-3c1e-4c9f-9a57-6f3f2f1f7d10", UserID: "user-42"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mustTarget(t *testing.T, endpoint, proxy string) target.Target {
	t.Helper()

	u, err := url.Parse(endpoint)
	if err != nil {
		t.Fatalf("parse %q: %v", endpoint, err)
	}
	tg := target.Target{Endpoint: u}
	if proxy != "" {
		p, err := target.ParseProxy(proxy)
		if err != nil {
			t.Fatalf("ParseProxy(%q): %v", proxy, err)
		}
		tg.Proxy = p
	}
	return tg
}

// virtualClock advances only when a session sleeps.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *virtualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type stamped struct {
	at  time.Time
	msg v1.Message
}

// scriptChannel replays server frames in order. Once the script is used up,
// Receive either fails like a peer close (hangUp) or closes idle and blocks
// until ctx is done.
type scriptChannel struct {
	clock *virtualClock

	mu       sync.Mutex
	frames   []string
	sent     []stamped
	received []stamped
	closes   int

	// failAfterSends, when > 0, fails the Nth Send with a transport error.
	failAfterSends int
	// hangUp makes an exhausted script look like the peer closing the connection.
	hangUp bool

	idleOnce sync.Once
	idle     chan struct{}
}

func newScriptChannel(clock *virtualClock, frames ...string) *scriptChannel {
	return &scriptChannel{clock: clock, frames: frames, idle: make(chan struct{})}
}

func (c *scriptChannel) Send(ctx context.Context, m v1.Message) error {
	if err := ctx.Err(); err != nil {
		return fault.Transport("fake.Send", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return fault.Transport("fake.Send", errors.New("closed"))
	}
	if c.failAfterSends > 0 && len(c.sent)+1 == c.failAfterSends {
		return fault.Transport("fake.Send", errors.New("connection reset by peer"))
	}
	c.sent = append(c.sent, stamped{at: c.clock.Now(), msg: m})
	return nil
}

func (c *scriptChannel) Receive(ctx context.Context, want v1.Kind) (v1.Message, error) {
	c.mu.Lock()
	if len(c.frames) == 0 {
		hangUp := c.hangUp
		c.mu.Unlock()
		if hangUp {
			return nil, fault.Transport("fake.Receive", errors.New("closed by peer (status 1001)"))
		}
		c.idleOnce.Do(func() { close(c.idle) })
		<-ctx.Done()
		return nil, fault.Transport("fake.Receive", ctx.Err())
	}
	raw := c.frames[0]
	c.frames = c.frames[1:]
	c.mu.Unlock()

	m, err := v1.Decode([]byte(raw), want)
	if err != nil {
		return nil, fault.Protocol("fake.Receive", err)
	}

	c.mu.Lock()
	c.received = append(c.received, stamped{at: c.clock.Now(), msg: m})
	c.mu.Unlock()
	return m, nil
}

func (c *scriptChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *scriptChannel) Sent() []stamped {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stamped(nil), c.sent...)
}

func (c *scriptChannel) Received() []stamped {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stamped(nil), c.received...)
}

func (c *scriptChannel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Idle is closed once the script is exhausted and the session waits for more.
func (c *scriptChannel) Idle() <-chan struct{} { return c.idle }

func openerFor(ch Channel) Opener {
	return OpenerFunc(func(context.Context, target.Target) (Channel, error) { return ch, nil })
}

// waitFor polls cond until it holds or fails the test after 5s.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// recordingObserver keeps every event for assertions.
type recordingObserver struct {
	mu          sync.Mutex
	started     []Info
	transitions []Transition
	messages    []MessageEvent
}

func (o *recordingObserver) SessionStarted(i Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, i)
}

func (o *recordingObserver) StateChanged(t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) MessageObserved(e MessageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, e)
}

func (o *recordingObserver) States(sessionID string) []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []State
	for _, t := range o.transitions {
		if sessionID == "" || t.SessionID == sessionID {
			out = append(out, t.To)
		}
	}
	return out
}

// seqIDs returns an id source yielding p1, p2, ...
func seqIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("p%d", n)
	}
}

// lowIntN always draws the lower bound of a window; highIntN the upper.
func lowIntN(int) int    { return 0 }
func highIntN(n int) int { return n - 1 }

func testConfig(clock *virtualClock, obs Observer) Config {
	return Config{
		Device:   testDevice,
		Log:      quietLogger(),
		Observer: obs,
		Sleep:    clock.Sleep,
		Now:      clock.Now,
		IntN:     lowIntN,
		NewID:    seqIDs(),
	}
}

// runUntilIdle runs s until the script is exhausted, then cancels it.
func runUntilIdle(t *testing.T, s *Session, ch *scriptChannel) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, openerFor(ch)) }()

	select {
	case <-ch.Idle():
		cancel()
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not reach the end of its script")
	}

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop after cancel")
		return nil
	}
}
