// Package identity holds the per-run device identity presented by every session.
//
// A Device is built once at startup and passed by value to each session.
// It is never mutated and never persisted: a new run is a new device.
package identity
