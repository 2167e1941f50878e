// Package session drives one heartbeat session per target through the
// Ping -> AuthChallenge -> Auth handshake and the heartbeat loop that follows,
// and supervises many such sessions concurrently.
package session

import "fmt"

// State is the protocol position of a Session.
//
// There is no successful terminal state: a session that works keeps cycling
// through the heartbeat states until it fails or is cancelled.
type State uint8

const (
	StateStart State = iota
	StateAwaitChallenge
	StateAuthenticating
	StateAwaitHeartbeat
	StateAcked
	StateHeartbeatSent
	StateFailed
	StateClosed
)

// States lists every state in protocol order.
var States = []State{
	StateStart,
	StateAwaitChallenge,
	StateAuthenticating,
	StateAwaitHeartbeat,
	StateAcked,
	StateHeartbeatSent,
	StateFailed,
	StateClosed,
}

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitChallenge:
		return "await_challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateAwaitHeartbeat:
		return "await_heartbeat"
	case StateAcked:
		return "acked"
	case StateHeartbeatSent:
		return "heartbeat_sent"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool { return s == StateFailed || s == StateClosed }

// Heartbeating reports whether the handshake completed and the session is in
// its heartbeat loop.
func (s State) Heartbeating() bool {
	switch s {
	case StateAwaitHeartbeat, StateAcked, StateHeartbeatSent:
		return true
	default:
		return false
	}
}
