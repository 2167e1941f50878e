package transport

import "time"

// Defaults. Keep ProxyConnectTimeout aligned with the documented 10 s proxy budget.
const (
	// Max bytes per websocket frame read (hard limit).
	DefaultReadLimit = 64 << 10 // 64 KiB

	DefaultProxyConnectTimeout = 10 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second

	defaultInboxSize = 32
	closeGrace       = 2 * time.Second
)
