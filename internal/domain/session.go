// Package domain contains the core business entities and interfaces.
package domain

import "time"

// Session is the verified content of a session token. The token itself is
// the session state; nothing about it is stored server-side.
type Session struct {
	ID         string
	Email      string
	SessionKey string
	ExpiresAt  time.Time
}

// UserKey returns the identity quotas and activity are keyed by.
func (s Session) UserKey() string {
	if s.Email != "" {
		return s.Email
	}
	return s.ID
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
