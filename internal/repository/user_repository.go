package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
)

// UserRepo provides lookups and creation for the user directory.  It
// also serves as the allocation engine's Directory collaborator: user
// foreign keys are validated here before a claim is created.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a new UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, name, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// UserExists reports whether a user id is present in the directory.
func (r *UserRepo) UserExists(ctx context.Context, id uint64) (bool, error) {
	const q = `SELECT 1 FROM users WHERE id = ?`
	var one int
	err := r.db.QueryRowContext(ctx, q, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID returns a single user.  Missing rows use the allocation
// sentinel so handlers map engine and directory lookups the same way.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, allocation.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// First returns the user with the lowest id.  Event creation falls
// back to it when no creator id is supplied, mirroring how seed data
// is attributed.
func (r *UserRepo) First(ctx context.Context) (model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT 1`
	u, err := scanUser(r.db.QueryRowContext(ctx, q))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, allocation.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// List returns all users ordered by id.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new user.  Duplicate emails are reported as
// ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `INSERT INTO users (email, name) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, q, u.Email, u.Name)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)

	created, err := r.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}
	*u = created
	return nil
}
