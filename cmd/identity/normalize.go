package identity

import "strings"

// NormalizeUserID trims surrounding whitespace. Case is preserved: the remote
// service treats user ids as opaque strings.
func NormalizeUserID(s string) string {
	return strings.TrimSpace(s)
}
