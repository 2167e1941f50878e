package session

import (
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"tether/cmd/internal/target"
)

// Observer is told about every session lifecycle step.
//
// Implementations must be safe for concurrent use and must not block for
// longer than their own bounded timeout: they run on the session goroutine.
type Observer interface {
	SessionStarted(Info)
	StateChanged(Transition)
	MessageObserved(MessageEvent)
}

// Info identifies a session when it starts.
type Info struct {
	SessionID string
	Target    target.Target
	At        time.Time
}

// Transition is one state change. Err is set when To is StateFailed or StateClosed.
type Transition struct {
	SessionID string
	Target    target.Target
	From      State
	To        State
	At        time.Time
	Err       error
}

// Direction of a message relative to this client.
type Direction uint8

const (
	Outbound Direction = iota + 1
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return "unknown"
	}
}

// MessageEvent records one message sent or received.
type MessageEvent struct {
	SessionID string
	Target    target.Target
	Direction Direction
	Kind      v1.Kind
	ID        string
	At        time.Time
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SessionStarted(Info)          {}
func (NopObserver) StateChanged(Transition)      {}
func (NopObserver) MessageObserved(MessageEvent) {}

// MultiObserver fans every event out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) SessionStarted(i Info) {
	for _, o := range m {
		if o != nil {
			o.SessionStarted(i)
		}
	}
}

func (m MultiObserver) StateChanged(t Transition) {
	for _, o := range m {
		if o != nil {
			o.StateChanged(t)
		}
	}
}

func (m MultiObserver) MessageObserved(e MessageEvent) {
	for _, o := range m {
		if o != nil {
			o.MessageObserved(e)
		}
	}
}
