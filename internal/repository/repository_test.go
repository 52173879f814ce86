package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/ledger"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

var (
	now  = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day  = model.Day(now)
	cols = []string{"id", "title", "total_seats", "available_seats", "workshop_date", "created_at"}
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func one() *sqlmock.Rows { return sqlmock.NewRows([]string{"1"}).AddRow(1) }

func none() *sqlmock.Rows { return sqlmock.NewRows([]string{"1"}) }

func allow(ledger.State) error { return nil }

func TestApplyDeltaReserveCommits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Go", 10, 3, day, now))
	mock.ExpectQuery(q(qUserExists)).WithArgs(2).WillReturnRows(one())
	mock.ExpectQuery(q(qHasReservation)).WithArgs(7, 2).WillReturnRows(none())
	mock.ExpectExec(q(qInsertReserve)).WithArgs(7, 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qTakeSeat)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen ledger.State
	w, err := repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 7, UserID: 2, Delta: -1, At: now},
		func(s ledger.State) error { seen = s; return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, w.AvailableSeats)
	assert.False(t, seen.Reserved)
	assert.Equal(t, 3, seen.Workshop.AvailableSeats)
}

func TestApplyDeltaCancelCapsAtTotal(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Go", 10, 10, day, now))
	mock.ExpectQuery(q(qUserExists)).WithArgs(2).WillReturnRows(one())
	mock.ExpectQuery(q(qHasReservation)).WithArgs(7, 2).WillReturnRows(one())
	mock.ExpectExec(q(qDeleteReserve)).WithArgs(7, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qReturnSeat)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	w, err := repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 7, UserID: 2, Delta: 1, At: now}, allow)
	require.NoError(t, err)
	assert.Equal(t, 10, w.AvailableSeats)
}

func TestApplyDeltaPreconditionRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Go", 10, 0, day, now))
	mock.ExpectQuery(q(qUserExists)).WithArgs(2).WillReturnRows(one())
	mock.ExpectQuery(q(qHasReservation)).WithArgs(7, 2).WillReturnRows(none())
	mock.ExpectRollback()

	_, err := repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 7, UserID: 2, Delta: -1, At: now},
		func(s ledger.State) error {
			if s.Workshop.AvailableSeats == 0 {
				return apperr.ErrFull
			}
			return nil
		})
	assert.ErrorIs(t, err, apperr.ErrFull)
}

func TestApplyDeltaUnknownWorkshopOrUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(99).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectRollback()
	_, err := repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 99, UserID: 2, Delta: -1}, allow)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Go", 10, 5, day, now))
	mock.ExpectQuery(q(qUserExists)).WithArgs(42).WillReturnRows(none())
	mock.ExpectRollback()
	_, err = repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 7, UserID: 42, Delta: -1}, allow)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyDeltaSeatUpdateMismatchIsConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockWorkshop)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Go", 10, 1, day, now))
	mock.ExpectQuery(q(qUserExists)).WithArgs(2).WillReturnRows(one())
	mock.ExpectQuery(q(qHasReservation)).WithArgs(7, 2).WillReturnRows(none())
	mock.ExpectExec(q(qInsertReserve)).WithArgs(7, 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qTakeSeat)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.ApplyDelta(context.Background(), ledger.Change{WorkshopID: 7, UserID: 2, Delta: -1, At: now}, allow)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestApplyDeltaRejectsOddDelta(t *testing.T) {
	db, _ := newMock(t)
	_, err := NewWorkshopRepo(db).ApplyDelta(context.Background(), ledger.Change{WorkshopID: 1, UserID: 1, Delta: 2}, allow)
	assert.Error(t, err)
}

func TestWorkshopReadsAndCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q(qSelectWorkshop)).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(3, "Testing", 4, 4, day, now))
	w, err := repo.Workshop(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Testing", w.Title)

	mock.ExpectQuery(q(qSelectWorkshop)).WithArgs(4).WillReturnRows(sqlmock.NewRows(cols))
	_, err = repo.Workshop(ctx, 4)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectQuery(q(qHasReservation)).WithArgs(3, 9).WillReturnRows(none())
	ok, err := repo.HasReservation(ctx, 3, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(q(qInsertWorkshop)).WithArgs("Fuzzing", 12, 12, day, now).WillReturnResult(sqlmock.NewResult(15, 1))
	created, err := repo.CreateWorkshop(ctx, model.Workshop{Title: "Fuzzing", TotalSeats: 12, AvailableSeats: 12, Date: day, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, uint64(15), created.ID)
}

func TestAttendanceRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAttendanceRepo(db)
	ctx := context.Background()
	a := model.Attendance{WorkshopID: 3, UserID: 9, CheckedInAt: now}

	mock.ExpectExec(q(qInsertAttendance)).WithArgs(3, 9, now).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.InsertAttendance(ctx, a))

	mock.ExpectExec(q(qInsertAttendance)).WithArgs(3, 9, now).
		WillReturnError(&mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry"})
	assert.ErrorIs(t, repo.InsertAttendance(ctx, a), apperr.ErrAlreadyCheckedIn)

	mock.ExpectExec(q(qInsertAttendance)).WithArgs(3, 9, now).
		WillReturnError(&mysql.MySQLError{Number: errNoReferenced, Message: "foreign key"})
	assert.ErrorIs(t, repo.InsertAttendance(ctx, a), apperr.ErrNotFound)

	mock.ExpectQuery(q(qAttendanceExists)).WithArgs(3, 9).WillReturnRows(one())
	ok, err := repo.AttendanceExists(ctx, 3, 9)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(q(qListAttendance)).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "checked_in_at"}).AddRow(9, now).AddRow(4, now.Add(time.Minute)))
	list, err := repo.ListAttendance(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(9), list[0].UserID)
	assert.Equal(t, uint64(3), list[1].WorkshopID)
}

func TestUserRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	ctx := context.Background()
	u := model.User{Email: "  Ada@Example.com ", Name: "Ada", PasswordHash: "hash", Role: model.RoleAttendee}

	mock.ExpectExec(q(qInsertUser)).WithArgs("ada@example.com", "Ada", "hash", model.RoleAttendee).
		WillReturnResult(sqlmock.NewResult(5, 1))
	id, err := repo.CreateUser(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)

	mock.ExpectExec(q(qInsertUser)).WithArgs("ada@example.com", "Ada", "hash", model.RoleAttendee).
		WillReturnError(&mysql.MySQLError{Number: errDupEntry})
	_, err = repo.CreateUser(ctx, u)
	assert.ErrorIs(t, err, apperr.ErrEmailExists)

	userCols := []string{"id", "email", "name", "password_hash", "role", "created_at"}
	mock.ExpectQuery(q(qUserByEmail)).WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(5, "ada@example.com", "Ada", "hash", "ATTENDEE", now))
	got, err := repo.UserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.ID)

	mock.ExpectQuery(q(qUserByID)).WithArgs(6).WillReturnRows(sqlmock.NewRows(userCols))
	_, err = repo.UserByID(ctx, 6)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
