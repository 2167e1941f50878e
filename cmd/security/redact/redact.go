package redact

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const (
	// MinKeyBytes is the minimum accepted fingerprint key size.
	MinKeyBytes = 16

	// fingerprintBytes is the digest prefix kept in the hex output.
	fingerprintBytes = 6

	// Mask replaces secrets that are rendered in place (e.g. URLs).
	Mask = "xxxxx"
)

// Fingerprinter maps secrets to short keyed digests.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a Fingerprinter keyed with key (16..64 bytes).
func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	if len(key) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &Fingerprinter{key: append([]byte(nil), key...)}, nil
}

// Fingerprint returns a 12-char hex digest of secret, or "" for an empty secret.
func (f *Fingerprinter) Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Key size is validated in NewFingerprinter.
		return ""
	}
	_, _ = h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil)[:fingerprintBytes])
}

var (
	runOnce sync.Once
	runFP   *Fingerprinter
)

// Run returns the process-wide Fingerprinter, keyed randomly on first use.
func Run() *Fingerprinter {
	runOnce.Do(func() {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("redact: crypto/rand failed: " + err.Error())
		}
		runFP = &Fingerprinter{key: key}
	})
	return runFP
}
