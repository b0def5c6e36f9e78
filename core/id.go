package core

import (
	"github.com/google/uuid"
)

// newAttemptID returns a random identifier used to correlate one login attempt in logs.
func newAttemptID() string {
	return uuid.NewString()
}

// NewBrowserSessionID returns the opaque id stored in the session cookie.
func NewBrowserSessionID() string {
	return uuid.NewString()
}
