package model

import "time"

// Reservation records that a user holds one seat of a workshop. At most one
// active reservation exists per (UserID, WorkshopID) pair.
type Reservation struct {
	UserID     uint64    `json:"user_id"`     // reservations.user_id
	WorkshopID uint64    `json:"workshop_id"` // reservations.workshop_id
	CreatedAt  time.Time `json:"created_at"`  // reservations.created_at
}
