package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

const (
	qInsertAttendance = `INSERT INTO attendance (workshop_id, user_id, checked_in_at) VALUES (?, ?, ?)`
	qAttendanceExists = `SELECT 1 FROM attendance WHERE workshop_id = ? AND user_id = ?`
	qListAttendance   = `SELECT user_id, checked_in_at FROM attendance WHERE workshop_id = ? ORDER BY checked_in_at, user_id`
)

// AttendanceRepo persists check-ins. The (workshop_id, user_id) primary key
// is what makes a second check-in of the same pair fail.
type AttendanceRepo struct {
	db *sql.DB
}

// NewAttendanceRepo returns an AttendanceRepo bound to db.
func NewAttendanceRepo(db *sql.DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

// InsertAttendance stores a check-in. A duplicate pair yields
// apperr.ErrAlreadyCheckedIn; an unknown workshop or user apperr.ErrNotFound.
func (r *AttendanceRepo) InsertAttendance(ctx context.Context, a model.Attendance) error {
	_, err := r.db.ExecContext(ctx, qInsertAttendance, a.WorkshopID, a.UserID, a.CheckedInAt)
	switch mysqlCode(err) {
	case errDupEntry:
		return apperr.ErrAlreadyCheckedIn
	case errNoReferenced:
		return apperr.ErrNotFound
	}
	return err
}

// AttendanceExists reports whether the pair already checked in.
func (r *AttendanceRepo) AttendanceExists(ctx context.Context, workshopID, userID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, qAttendanceExists, workshopID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListAttendance returns the check-ins of a workshop in check-in order.
func (r *AttendanceRepo) ListAttendance(ctx context.Context, workshopID uint64) ([]model.Attendance, error) {
	rows, err := r.db.QueryContext(ctx, qListAttendance, workshopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Attendance{}
	for rows.Next() {
		a := model.Attendance{WorkshopID: workshopID}
		if err := rows.Scan(&a.UserID, &a.CheckedInAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
