// Package repository is the MySQL persistence layer. Each repository wraps a
// *sql.DB and translates driver failures into the apperr kinds the ledger
// and the check-in coordinator understand, so callers never inspect MySQL
// error numbers or sql.ErrNoRows themselves.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
)

// MySQL server error numbers the repositories react to.
const (
	errDupEntry     = 1062 // ER_DUP_ENTRY
	errNoReferenced = 1452 // ER_NO_REFERENCED_ROW_2
)

// mysqlCode returns the server error number carried by err, or 0.
func mysqlCode(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// notFound maps sql.ErrNoRows to apperr.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}
