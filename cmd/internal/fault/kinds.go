// Package fault is the error taxonomy shared by transport, session and app.
//
// Every failure that ends a session is one of three kinds, checkable with errors.Is.
package fault

import "errors"

// Sentinel error kinds.
var (
	// ErrTransport covers refused/reset connections, proxy handshake failures,
	// proxy connect timeouts, TLS failures, write failures and channel closure.
	ErrTransport = errors.New("transport")
	// ErrProtocol covers frames that do not decode into the expected message
	// or lack a correlation id.
	ErrProtocol = errors.New("protocol")
	// ErrConfiguration covers malformed proxy descriptors, endpoints and a missing user id.
	ErrConfiguration = errors.New("configuration")
)
