package model

import "time"

// Scope binds a token to a workshop and, optionally, to a single user.
// UserID zero means the token is workshop-scoped: it is displayed at a
// scanning station and any attendee of the workshop may present it once.
type Scope struct {
	WorkshopID uint64 `json:"workshop_id"`
	UserID     uint64 `json:"user_id,omitempty"`
}

// WorkshopScoped reports whether the scope names no user.
func (s Scope) WorkshopScoped() bool { return s.UserID == 0 }

// Accepts reports whether a token issued for s may be presented by the
// holder described by want. Workshops must match; a user-scoped token
// additionally requires the same user.
func (s Scope) Accepts(want Scope) bool {
	if s.WorkshopID != want.WorkshopID {
		return false
	}
	return s.WorkshopScoped() || s.UserID == want.UserID
}

// Token is a short-lived verification token as handed to collaborators.
type Token struct {
	Value     string    `json:"token"`
	Scope     Scope     `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
