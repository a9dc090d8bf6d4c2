package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/campusbites/campus-food-claims/internal/model"
)

// OrganizationRepo provides CRUD operations for campus organizations.
type OrganizationRepo struct {
	db *sql.DB
}

// NewOrganizationRepo returns a new OrganizationRepo bound to the given database.
func NewOrganizationRepo(db *sql.DB) *OrganizationRepo { return &OrganizationRepo{db: db} }

const orgColumns = `id, name, description, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (model.Organization, error) {
	var o model.Organization
	var desc sql.NullString
	err := row.Scan(&o.ID, &o.Name, &desc, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Organization{}, err
	}
	o.Description = desc.String
	return o, nil
}

// GetByID returns a single organization or ErrOrganizationNotFound.
func (r *OrganizationRepo) GetByID(ctx context.Context, id uint64) (model.Organization, error) {
	const q = `SELECT ` + orgColumns + ` FROM organizations WHERE id = ?`
	o, err := scanOrganization(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Organization{}, ErrOrganizationNotFound
	}
	if err != nil {
		return model.Organization{}, err
	}
	return o, nil
}

// List returns all organizations ordered by name.
func (r *OrganizationRepo) List(ctx context.Context) ([]model.Organization, error) {
	const q = `SELECT ` + orgColumns + ` FROM organizations ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orgs := make([]model.Organization, 0)
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// Create inserts a new organization.  Duplicate names are reported as
// ErrConflict.
func (r *OrganizationRepo) Create(ctx context.Context, o *model.Organization) error {
	const q = `INSERT INTO organizations (name, description) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, q, o.Name, nullString(o.Description))
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
	o.ID = uint64(id)

	created, err := r.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	*o = created
	return nil
}

// isDuplicate reports whether err is a MySQL duplicate-entry error
// (code 1062, unique constraint violation).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
