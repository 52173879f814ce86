package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/ledger"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

const (
	qSelectWorkshop = `SELECT id, title, total_seats, available_seats, workshop_date, created_at FROM workshops WHERE id = ?`
	qLockWorkshop   = qSelectWorkshop + ` FOR UPDATE`
	qUserExists     = `SELECT 1 FROM users WHERE id = ?`
	qHasReservation = `SELECT 1 FROM reservations WHERE workshop_id = ? AND user_id = ?`
	qInsertReserve  = `INSERT INTO reservations (workshop_id, user_id, created_at) VALUES (?, ?, ?)`
	qDeleteReserve  = `DELETE FROM reservations WHERE workshop_id = ? AND user_id = ?`
	qTakeSeat       = `UPDATE workshops SET available_seats = available_seats - 1 WHERE id = ? AND available_seats > 0`
	qReturnSeat     = `UPDATE workshops SET available_seats = LEAST(total_seats, available_seats + 1) WHERE id = ?`
	qInsertWorkshop = `INSERT INTO workshops (title, total_seats, available_seats, workshop_date, created_at) VALUES (?, ?, ?, ?, ?)`
)

// WorkshopRepo persists workshops and reservations. It implements
// ledger.Store: ApplyDelta locks the workshop row with SELECT ... FOR UPDATE
// so concurrent reservations on one workshop serialize on that row while
// other workshops proceed in parallel.
type WorkshopRepo struct {
	db *sql.DB
}

// NewWorkshopRepo returns a WorkshopRepo bound to db.
func NewWorkshopRepo(db *sql.DB) *WorkshopRepo { return &WorkshopRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkshop(row rowScanner) (model.Workshop, error) {
	var w model.Workshop
	err := row.Scan(&w.ID, &w.Title, &w.TotalSeats, &w.AvailableSeats, &w.Date, &w.CreatedAt)
	return w, notFound(err)
}

// ApplyDelta implements ledger.Store.
func (r *WorkshopRepo) ApplyDelta(ctx context.Context, ch ledger.Change, check ledger.Precondition) (model.Workshop, error) {
	if ch.Delta != -1 && ch.Delta != 1 {
		return model.Workshop{}, fmt.Errorf("apply delta: unsupported delta %d", ch.Delta)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Workshop{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	w, err := scanWorkshop(tx.QueryRowContext(ctx, qLockWorkshop, ch.WorkshopID))
	if err != nil {
		return model.Workshop{}, err
	}
	if _, err := existsTx(ctx, tx, qUserExists, ch.UserID); err != nil {
		return model.Workshop{}, err
	}
	reserved, err := existsTx(ctx, tx, qHasReservation, ch.WorkshopID, ch.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return model.Workshop{}, err
	}
	if err := check(ledger.State{Workshop: w, Reserved: reserved}); err != nil {
		return model.Workshop{}, err
	}

	if ch.Delta < 0 {
		if reserved || w.AvailableSeats <= 0 {
			return model.Workshop{}, apperr.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, qInsertReserve, ch.WorkshopID, ch.UserID, ch.At); err != nil {
			if mysqlCode(err) == errDupEntry {
				return model.Workshop{}, apperr.ErrConflict
			}
			return model.Workshop{}, err
		}
		if err := execOne(ctx, tx, qTakeSeat, ch.WorkshopID); err != nil {
			return model.Workshop{}, err
		}
		w.AvailableSeats--
	} else {
		if !reserved {
			return model.Workshop{}, apperr.ErrConflict
		}
		if err := execOne(ctx, tx, qDeleteReserve, ch.WorkshopID, ch.UserID); err != nil {
			return model.Workshop{}, err
		}
		if _, err := tx.ExecContext(ctx, qReturnSeat, ch.WorkshopID); err != nil {
			return model.Workshop{}, err
		}
		w.AvailableSeats = min(w.TotalSeats, w.AvailableSeats+1)
	}

	if err := tx.Commit(); err != nil {
		return model.Workshop{}, err
	}
	committed = true
	return w, nil
}

// existsTx runs a SELECT 1 query. A missing row yields (false, apperr.ErrNotFound).
func existsTx(ctx context.Context, tx *sql.Tx, q string, args ...any) (bool, error) {
	var one int
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&one); err != nil {
		return false, notFound(err)
	}
	return true, nil
}

// execOne runs q and requires exactly one affected row, otherwise the
// locked state disagreed with the table and apperr.ErrConflict is returned.
func execOne(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return apperr.ErrConflict
	}
	return nil
}

// HasReservation implements ledger.Store.
func (r *WorkshopRepo) HasReservation(ctx context.Context, workshopID, userID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, qHasReservation, workshopID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Workshop implements ledger.Store.
func (r *WorkshopRepo) Workshop(ctx context.Context, id uint64) (model.Workshop, error) {
	return scanWorkshop(r.db.QueryRowContext(ctx, qSelectWorkshop, id))
}

// CreateWorkshop implements ledger.Store.
func (r *WorkshopRepo) CreateWorkshop(ctx context.Context, w model.Workshop) (model.Workshop, error) {
	res, err := r.db.ExecContext(ctx, qInsertWorkshop, w.Title, w.TotalSeats, w.AvailableSeats, w.Date, w.CreatedAt)
	if err != nil {
		return model.Workshop{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Workshop{}, err
	}
	w.ID = uint64(id)
	return w, nil
}
