package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campusbites/campus-food-claims/internal/model"
)

// LocationRepo provides lookups and creation for organization-scoped
// locations.  A location name is unique within its organization, which
// lets event creation resolve a location by name and create it on
// first use.
type LocationRepo struct {
	db *sql.DB
}

// NewLocationRepo returns a new LocationRepo bound to the given database.
func NewLocationRepo(db *sql.DB) *LocationRepo { return &LocationRepo{db: db} }

const locationColumns = `id, org_id, name, created_at, updated_at`

func scanLocation(row interface{ Scan(...any) error }) (model.Location, error) {
	var l model.Location
	err := row.Scan(&l.ID, &l.OrganizationID, &l.Name, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// GetByID returns a single location or ErrLocationNotFound.
func (r *LocationRepo) GetByID(ctx context.Context, id uint64) (model.Location, error) {
	const q = `SELECT ` + locationColumns + ` FROM locations WHERE id = ?`
	l, err := scanLocation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Location{}, ErrLocationNotFound
	}
	if err != nil {
		return model.Location{}, err
	}
	return l, nil
}

// ListByOrganization returns an organization's locations ordered by name.
func (r *LocationRepo) ListByOrganization(ctx context.Context, orgID uint64) ([]model.Location, error) {
	const q = `SELECT ` + locationColumns + ` FROM locations WHERE org_id = ? ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locations := make([]model.Location, 0)
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// FindOrCreate resolves a location by name within an organization,
// creating it when absent.  Name matching is case-insensitive, relying
// on the column collation.  A concurrent insert losing the race on the
// unique (org_id, name) index falls back to re-reading the winner.
func (r *LocationRepo) FindOrCreate(ctx context.Context, orgID uint64, name string) (model.Location, error) {
	existing, err := r.findByName(ctx, orgID, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrLocationNotFound) {
		return model.Location{}, err
	}

	const ins = `INSERT INTO locations (org_id, name) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, ins, orgID, name)
	if err != nil {
		if isDuplicate(err) {
			return r.findByName(ctx, orgID, name)
		}
		return model.Location{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Location{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

func (r *LocationRepo) findByName(ctx context.Context, orgID uint64, name string) (model.Location, error) {
	const q = `SELECT ` + locationColumns + ` FROM locations WHERE org_id = ? AND name = ?`
	l, err := scanLocation(r.db.QueryRowContext(ctx, q, orgID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Location{}, ErrLocationNotFound
	}
	if err != nil {
		return model.Location{}, err
	}
	return l, nil
}
