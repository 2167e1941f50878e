package session

import (
	"context"
	"math/rand/v2"
	"time"
)

// tenth is the jitter resolution.
const tenth = 100 * time.Millisecond

// Window is an inclusive jitter range expressed in tenths of a second.
// A draw is randint(Lo, Hi) / 10 seconds.
type Window struct {
	Lo int
	Hi int
}

// Draw picks a delay in w using intn, which must return a value in [0, n).
func (w Window) Draw(intn func(n int) int) time.Duration {
	lo, hi := w.Lo, w.Hi
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return time.Duration(lo) * tenth
	}
	return time.Duration(lo+intn(hi-lo+1)) * tenth
}

// Min is the shortest delay Draw can return.
func (w Window) Min() time.Duration { return time.Duration(max(min(w.Lo, w.Hi), 0)) * tenth }

// Max is the longest delay Draw can return.
func (w Window) Max() time.Duration { return time.Duration(max(w.Lo, w.Hi, 0)) * tenth }

// Windows holds the delay policy between protocol steps.
type Windows struct {
	// BeforeAuth separates the challenge from the AUTH reply.
	BeforeAuth Window
	// BeforePong separates a heartbeat challenge from its PONG.
	BeforePong Window
	// PingInterval separates a PONG from the next heartbeat PING.
	PingInterval Window
	// AfterPing follows every heartbeat PING.
	AfterPing Window
}

// DefaultWindows are the timings the remote service expects.
var DefaultWindows = Windows{
	BeforeAuth:   Window{Lo: 10, Hi: 20},
	BeforePong:   Window{Lo: 1, Hi: 9},
	PingInterval: Window{Lo: 180, Hi: 250},
	AfterPing:    Window{Lo: 1, Hi: 9},
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func defaultIntN(n int) int { return rand.IntN(n) }
