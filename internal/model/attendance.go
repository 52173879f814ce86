package model

import "time"

// Attendance records a successful check-in. At most one exists per
// (UserID, WorkshopID) pair.
type Attendance struct {
	UserID      uint64    `json:"user_id"`       // attendance.user_id
	WorkshopID  uint64    `json:"workshop_id"`   // attendance.workshop_id
	CheckedInAt time.Time `json:"checked_in_at"` // attendance.checked_in_at
}

// Attendee is the identity shown to scanning stations and admins when a
// check-in succeeds.
type Attendee struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// RosterEntry is one line of a workshop's attendance roster.
type RosterEntry struct {
	Attendee
	CheckedInAt time.Time `json:"checked_in_at"`
}
