// Package redact produces log-safe stand-ins for secrets.
//
// Proxy credentials never reach a log line. Instead the logger sees a short
// keyed BLAKE2b fingerprint: equal credentials map to equal fingerprints within
// one run, so operators can tell accounts apart, while the per-run random key
// prevents offline guessing from a leaked log.
package redact
