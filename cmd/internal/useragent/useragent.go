// Package useragent produces the client identification presented on every
// handshake of a run.
package useragent

import (
	"net/http"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// Chrome returns a random, plausible Chrome User-Agent string.
func Chrome() string {
	return gofakeit.ChromeUserAgent()
}

// ChromeSeeded is Chrome with a fixed seed. Seed 0 is random.
func ChromeSeeded(seed uint64) string {
	return gofakeit.New(seed).ChromeUserAgent()
}

// Resolve returns override when set, otherwise a fresh Chrome user agent.
func Resolve(override string) string {
	if ua := strings.TrimSpace(override); ua != "" {
		return ua
	}
	return Chrome()
}

// Header builds the handshake header carrying ua.
func Header(ua string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	return h
}
