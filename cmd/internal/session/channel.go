package session

import (
	"context"

	v1 "tether/shared/contracts/relay/v1"

	"tether/cmd/internal/target"
)

// Channel is an open, message-oriented connection to one target.
// Send and Receive are never called concurrently by a Session.
type Channel interface {
	Send(ctx context.Context, m v1.Message) error
	Receive(ctx context.Context, want v1.Kind) (v1.Message, error)
	Close() error
}

// Opener establishes Channels.
type Opener interface {
	Open(ctx context.Context, t target.Target) (Channel, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, t target.Target) (Channel, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, t target.Target) (Channel, error) { return f(ctx, t) }
