package fault

import (
	"context"
	"errors"
	"fmt"
)

// Error is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel kinds; Err is the underlying cause (may be nil).
// Msg may include human-readable context; do not include credentials.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Transport wraps err as a transport failure of op.
func Transport(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransport, Err: err}
}

// Protocol wraps err as a protocol failure of op.
func Protocol(op string, err error) error {
	return &Error{Op: op, Kind: ErrProtocol, Err: err}
}

// Configuration reports an invalid configuration value.
func Configuration(op, msg string) error {
	return &Error{Op: op, Kind: ErrConfiguration, Msg: msg}
}

// Kind names the failure category of err for logs and metrics.
// Context cancellation is reported as "canceled" and takes precedence:
// a unit stopped on purpose is not a failure.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.DeadlineExceeded):
		return "transport"
	default:
		return "unknown"
	}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsProtocol reports whether err is a protocol failure.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
