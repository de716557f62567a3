// ABOUTME: Registration token record as returned by the Synapse admin API
// ABOUTME: Provides the token format validator and derived uses/expiry helpers

package synapse

import (
	"regexp"
	"time"
)

// MaxTokenLength is the longest token Synapse accepts.
const MaxTokenLength = 64

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]*$`)

// Token is one registration token as known to the homeserver.
type Token struct {
	Token       string `json:"token"`
	UsesAllowed *int   `json:"uses_allowed"`
	Pending     int    `json:"pending"`
	Completed   int    `json:"completed"`
	// ExpiryTime is milliseconds since the Unix epoch; nil never expires.
	ExpiryTime *int64 `json:"expiry_time"`
}

// UsesLeft returns the remaining registrations and false when the token is unlimited.
func (t Token) UsesLeft() (int, bool) {
	if t.UsesAllowed == nil {
		return 0, false
	}
	return *t.UsesAllowed - t.Completed - t.Pending, true
}

// Expiry returns the expiry instant in UTC and false when the token never expires.
func (t Token) Expiry() (time.Time, bool) {
	if t.ExpiryTime == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*t.ExpiryTime).UTC(), true
}

// ValidTokenFormat reports whether token only contains unreserved URL
// characters and is at most MaxTokenLength bytes long. The empty string is valid.
func ValidTokenFormat(token string) bool {
	if len(token) > MaxTokenLength {
		return false
	}
	return tokenPattern.MatchString(token)
}
