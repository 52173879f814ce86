package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/workshop-checkin/internal/apperr"
	"github.com/iliyamo/workshop-checkin/internal/model"
)

const (
	qInsertUser  = `INSERT INTO users (email, name, password_hash, role) VALUES (?, ?, ?, ?)`
	qUserByID    = `SELECT id, email, name, password_hash, role, created_at FROM users WHERE id = ? LIMIT 1`
	qUserByEmail = `SELECT id, email, name, password_hash, role, created_at FROM users WHERE email = ? LIMIT 1`
)

// UserRepo persists accounts.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// CreateUser inserts u (PasswordHash already set) and returns its ID.
func (r *UserRepo) CreateUser(ctx context.Context, u model.User) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	res, err := r.DB.ExecContext(ctx, qInsertUser, email, u.Name, u.PasswordHash, u.Role)
	if err != nil {
		if mysqlCode(err) == errDupEntry {
			return 0, apperr.ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// UserByEmail fetches a user by normalized email.
func (r *UserRepo) UserByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx, qUserByEmail, email))
}

// UserByID fetches a user by id.
func (r *UserRepo) UserByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, qUserByID, id))
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, notFound(err)
}
