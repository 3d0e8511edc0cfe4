package users

import (
	"context"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, full_name, phone, role, is_active, created_by, created_at`

var ErrNotFound = apperr.NotFound("user not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.Role, &u.IsActive, &u.CreatedBy, &u.CreatedAt)
	if db.IsNotFound(err) {
		return User{}, ErrNotFound
	}
	return u, err
}

// Create inserts u. A taken email is reported as a conflict.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, u User) (User, error) {
	out, err := scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, phone, role, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Phone, u.Role, u.IsActive, u.CreatedBy))
	if db.IsUniqueViolation(err) {
		return User{}, apperr.Conflict("email already registered")
	}
	return out, err
}

func (r *Repository) ByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *Repository) ByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// List returns accounts, optionally of one role, newest first.
func (r *Repository) List(ctx context.Context, role string, limit int) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) (User, error) {
	return scanUser(tx.QueryRow(ctx, `
		UPDATE users SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id, active))
}
