package redact

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyTooShort = errors.New("redact: fingerprint key too short")
	ErrKeyTooLong  = errors.New("redact: fingerprint key too long")
)
