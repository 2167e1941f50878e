package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decode errors. Callers map all of them to a protocol failure.
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrMissingID    = errors.New("missing field: id")
	ErrUnknownShape = errors.New("frame does not match expected shape")
)

// frame is the union of every field the protocol uses.
type frame struct {
	ID           *string         `json:"id"`
	Version      string          `json:"version"`
	Action       string          `json:"action"`
	OriginAction string          `json:"origin_action"`
	Data         json.RawMessage `json:"data"`
	Result       *AuthResult     `json:"result"`
}

// Encode serializes m into one UTF-8 JSON text frame.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	if p, ok := m.(Ping); ok && p.Data == nil {
		p.Data = map[string]any{}
		m = p
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

// Decode parses data as the variant want.
//
// Server challenges share one shape ({"id": ...}), so the receiver names the
// variant it is waiting for. A frame that is not a JSON object, or that lacks a
// non-empty string id, is rejected.
func Decode(data []byte, want Kind) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.ID == nil || strings.TrimSpace(*f.ID) == "" {
		return nil, ErrMissingID
	}
	id := *f.ID

	switch want {
	case KindAuthChallenge:
		return AuthChallenge{ID: id, Action: f.Action}, nil

	case KindHeartbeatChallenge:
		return HeartbeatChallenge{ID: id, Action: f.Action}, nil

	case KindPing:
		if f.Action != ActionPing {
			return nil, fmt.Errorf("%w: want action %q, got %q", ErrUnknownShape, ActionPing, f.Action)
		}
		data := map[string]any{}
		if len(f.Data) > 0 && string(f.Data) != "null" {
			if err := json.Unmarshal(f.Data, &data); err != nil {
				return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
			}
		}
		return Ping{ID: id, Version: f.Version, Action: f.Action, Data: data}, nil

	case KindAuth:
		if f.OriginAction != OriginActionAuth || f.Result == nil {
			return nil, fmt.Errorf("%w: want origin_action %q with result", ErrUnknownShape, OriginActionAuth)
		}
		return Auth{ID: id, OriginAction: f.OriginAction, Result: *f.Result}, nil

	case KindPong:
		if f.OriginAction != OriginActionPong {
			return nil, fmt.Errorf("%w: want origin_action %q, got %q", ErrUnknownShape, OriginActionPong, f.OriginAction)
		}
		return Pong{ID: id, OriginAction: f.OriginAction}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrUnknownShape, want)
	}
}
