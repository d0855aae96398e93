package domain

import "time"

// Session binds a subject to a currently valid token pair. Sessions are
// created at login, mutated in place on refresh, and deactivated on logout.
// Fingerprints are stored instead of raw tokens so the ledger never holds
// usable bearer values.
type Session struct {
	ID                 string
	SubjectID          string
	AccessFingerprint  string
	RefreshFingerprint string
	IPAddress          string
	UserAgent          string
	AccessExpiresAt    time.Time
	RefreshExpiresAt   time.Time
	Active             bool
	CreatedAt          time.Time
}

// AccessExpired reports whether the access token window has passed.
func (s *Session) AccessExpired(now time.Time) bool {
	return now.After(s.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh token window has passed.
func (s *Session) RefreshExpired(now time.Time) bool {
	return now.After(s.RefreshExpiresAt)
}
