package models

import "time"

// ExpirySkew is subtracted from a token's lifetime when evaluating expiry,
// so renewal happens slightly early instead of racing the boundary.
const ExpirySkew = 30 * time.Second

// AuthToken is a time-bounded session credential obtained from a broker
// login. It is an immutable value: renewal replaces the stored token
// wholesale, never mutates fields in place.
type AuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // e.g. Bearer
	ObtainedAt   time.Time
	ExpiresIn    time.Duration
}

// ExpiresAt returns the instant the token stops being valid.
func (t AuthToken) ExpiresAt() time.Time {
	return t.ObtainedAt.Add(t.ExpiresIn)
}

// IsExpired reports whether the token should be renewed. A token with an
// unset ObtainedAt is always expired.
func (t AuthToken) IsExpired() bool {
	if t.ObtainedAt.IsZero() {
		return true
	}
	return !time.Now().Before(t.ExpiresAt().Add(-ExpirySkew))
}
