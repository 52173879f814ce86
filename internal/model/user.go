package model

import "time"

// Roles accepted in the JWT "role" claim.
const (
	RoleAdmin    = "ADMIN"
	RoleAttendee = "ATTENDEE"
)

// User represents an account as stored in the `users` table. Each field
// corresponds to a column. PasswordHash is a bcrypt hash and is never
// serialized.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lower-cased email address.
//  Name         – display name shown on check-in screens.
//  PasswordHash – bcrypt hashed password.
//  Role         – ADMIN or ATTENDEE.
//  CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64    `json:"id"`         // users.id
	Email        string    `json:"email"`      // users.email
	Name         string    `json:"name"`       // users.name
	PasswordHash string    `json:"-"`          // users.password_hash
	Role         string    `json:"role"`       // users.role
	CreatedAt    time.Time `json:"created_at"` // users.created_at
}

// Attendee returns the public identity of u.
func (u User) Attendee() Attendee {
	return Attendee{UserID: u.ID, Email: u.Email, Name: u.Name}
}
