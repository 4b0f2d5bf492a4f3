package session

import "time"

// Session is the current vendor credential set.
//
// It is mutated only by the Manager, persisted after every successful
// login or refresh, and cleared wholesale when a refresh token is
// rejected. A cleared session has every field at its zero value; a
// session is never partially cleared.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserIndex    int
	UserID       string
}

// IsZero reports whether the session is cleared (no stored credentials).
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// ValidFor reports whether the access token is usable for at least the
// given margin. A zero session is never valid.
func (s Session) ValidFor(margin time.Duration, now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(s.ExpiresAt)
}
