// Package v1 defines the relay heartbeat protocol contract.
//
// This package is intentionally stable and dependency-light.
// Field names are wire-stable: the remote service matches on them exactly.
package v1

import "fmt"

// Wire-stable literals.
const (
	// PingVersion is the protocol version carried by every client PING.
	PingVersion = "1.0.0"

	ActionPing = "PING"

	OriginActionAuth = "AUTH"
	OriginActionPong = "PONG"

	// DeviceType and ExtensionVersion identify the client in AUTH results.
	DeviceType       = "extension"
	ExtensionVersion = "2.5.0"
)

// Kind tags a Message variant.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindAuthChallenge
	KindAuth
	KindHeartbeatChallenge
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindAuthChallenge:
		return "auth_challenge"
	case KindAuth:
		return "auth"
	case KindHeartbeatChallenge:
		return "heartbeat_challenge"
	case KindPong:
		return "pong"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ServerOriginated reports whether the variant is sent by the remote service.
func (k Kind) ServerOriginated() bool {
	return k == KindAuthChallenge || k == KindHeartbeatChallenge
}

// Message is one protocol frame.
type Message interface {
	Kind() Kind
	// CorrelationID is the frame's "id" field.
	CorrelationID() string
}

// ---- client -> server ----

// Ping is the liveness probe sent at session start and on every heartbeat.
type Ping struct {
	ID      string         `json:"id"`
	Version string         `json:"version"`
	Action  string         `json:"action"`
	Data    map[string]any `json:"data"`
}

// NewPing builds a PING with the given fresh id.
func NewPing(id string) Ping {
	return Ping{
		ID:      id,
		Version: PingVersion,
		Action:  ActionPing,
		Data:    map[string]any{},
	}
}

func (Ping) Kind() Kind              { return KindPing }
func (p Ping) CorrelationID() string { return p.ID }

// AuthResult describes the authenticating device.
type AuthResult struct {
	BrowserID  string `json:"browser_id"`
	UserID     string `json:"user_id"`
	UserAgent  string `json:"user_agent"`
	Timestamp  int64  `json:"timestamp"`
	DeviceType string `json:"device_type"`
	Version    string `json:"version"`
}

// Auth answers an AuthChallenge; ID is copied from the challenge.
type Auth struct {
	ID           string     `json:"id"`
	OriginAction string     `json:"origin_action"`
	Result       AuthResult `json:"result"`
}

// NewAuth builds an AUTH reply to challengeID.
func NewAuth(challengeID string, result AuthResult) Auth {
	return Auth{
		ID:           challengeID,
		OriginAction: OriginActionAuth,
		Result:       result,
	}
}

func (Auth) Kind() Kind              { return KindAuth }
func (a Auth) CorrelationID() string { return a.ID }

// Pong answers a HeartbeatChallenge; ID is copied from the challenge.
type Pong struct {
	ID           string `json:"id"`
	OriginAction string `json:"origin_action"`
}

// NewPong builds a PONG reply to heartbeatID.
func NewPong(heartbeatID string) Pong {
	return Pong{ID: heartbeatID, OriginAction: OriginActionPong}
}

func (Pong) Kind() Kind              { return KindPong }
func (p Pong) CorrelationID() string { return p.ID }

// ---- server -> client ----

// AuthChallenge is the server's answer to the initial PING.
// Only ID is consumed; Action is kept for logs.
type AuthChallenge struct {
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`
}

func (AuthChallenge) Kind() Kind              { return KindAuthChallenge }
func (c AuthChallenge) CorrelationID() string { return c.ID }

// HeartbeatChallenge is sent by the server during the heartbeat phase.
// Fields other than id/action are ignored.
type HeartbeatChallenge struct {
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`
}

func (HeartbeatChallenge) Kind() Kind              { return KindHeartbeatChallenge }
func (c HeartbeatChallenge) CorrelationID() string { return c.ID }
