package repository

import "database/sql"

// Store bundles the repositories into the persistence the engine and the
// auth handlers expect.
type Store struct {
	*WorkshopRepo
	*AttendanceRepo
	*UserRepo
}

// NewStore returns a Store whose repositories share db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		WorkshopRepo:   NewWorkshopRepo(db),
		AttendanceRepo: NewAttendanceRepo(db),
		UserRepo:       NewUserRepo(db),
	}
}
