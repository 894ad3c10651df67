package models

import "time"

// RefreshSession binds the hash of one issued refresh token to its owning
// user. The raw token is never persisted. A session is active iff RevokedAt
// is nil and ExpiresAt is in the future; RevokedAt is set at most once and
// never cleared. Rotated and expired rows are retained for history.
type RefreshSession struct {
	ID               string
	UserID           string
	RefreshTokenHash []byte
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

// Active reports whether the session can still redeem its refresh token.
func (s RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
