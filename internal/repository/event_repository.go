package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
)

// EventRepo provides CRUD operations for events and the creation of
// their portion pools.  It also serves as the allocation engine's
// event lifecycle collaborator: the engine reads event status and end
// times through this repository and never writes them.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle.
func (r *EventRepo) DB() *sql.DB { return r.db }

const eventColumns = `id, org_id, location_id, created_by, title, description,
	start_time, end_time, status, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var ev model.Event
	var desc sql.NullString
	var end sql.NullTime
	var status string
	err := row.Scan(&ev.ID, &ev.OrganizationID, &ev.LocationID, &ev.CreatedByID,
		&ev.Title, &desc, &ev.StartTime, &end, &status, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return model.Event{}, err
	}
	ev.Description = desc.String
	if end.Valid {
		t := end.Time.UTC()
		ev.EndTime = &t
	}
	ev.Status = model.EventStatus(status)
	return ev, nil
}

// Event returns a single event by id.  It satisfies
// allocation.EventSource and therefore reports missing rows with the
// allocation sentinel.
func (r *EventRepo) Event(ctx context.Context, id uint64) (model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, allocation.ErrEventNotFound
	}
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// EndedEventIDs returns the ids of events that ended before cutoff and
// still have open claims to expire.  Events without CLAIMED claims are
// skipped so the sweeper does not revisit settled history every tick.
func (r *EventRepo) EndedEventIDs(ctx context.Context, cutoff time.Time) ([]uint64, error) {
	const q = `SELECT DISTINCT e.id
	           FROM events e
	           JOIN inventory_items i ON i.event_id = e.id
	           JOIN claims c ON c.item_id = i.id AND c.status = 'CLAIMED'
	           WHERE e.end_time IS NOT NULL AND e.end_time < ?`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns events matching the optional search term.  A blank term
// returns everything; otherwise the term is matched case-insensitively
// against title and description.  Newest events come first.
func (r *EventRepo) List(ctx context.Context, term string) ([]model.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}
	if term != "" {
		q += ` WHERE title LIKE ? OR description LIKE ?`
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY start_time DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Create inserts a new event and populates the generated id and
// timestamps on the provided value.
func (r *EventRepo) Create(ctx context.Context, ev *model.Event) error {
	const q = `INSERT INTO events
	           (org_id, location_id, created_by, title, description, start_time, end_time, status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ev.OrganizationID, ev.LocationID, ev.CreatedByID,
		ev.Title, nullString(ev.Description), ev.StartTime, nullTime(ev.EndTime), string(ev.Status))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)

	created, err := r.Event(ctx, ev.ID)
	if err != nil {
		return err
	}
	ev.CreatedAt = created.CreatedAt
	ev.UpdatedAt = created.UpdatedAt
	return nil
}

// Update rewrites an existing event's mutable fields.  The caller is
// expected to have loaded the event first; a missing row is reported
// with the allocation sentinel.
func (r *EventRepo) Update(ctx context.Context, ev *model.Event) error {
	const q = `UPDATE events SET org_id = ?, location_id = ?, created_by = ?, title = ?,
	           description = ?, start_time = ?, end_time = ?, status = ?, updated_at = NOW()
	           WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, ev.OrganizationID, ev.LocationID, ev.CreatedByID,
		ev.Title, nullString(ev.Description), ev.StartTime, nullTime(ev.EndTime), string(ev.Status), ev.ID)
	if err != nil {
		return err
	}
	updated, err := r.Event(ctx, ev.ID)
	if err != nil {
		return err
	}
	*ev = updated
	return nil
}

// Delete removes an event and its portion pools.  Claims are kept for
// audit; they reference the deleted item ids as historical records.
func (r *EventRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_items WHERE event_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return allocation.ErrEventNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// FirstItem returns the event's first portion pool, the one the
// "meals" shorthand on event create/update maps onto.
func (r *EventRepo) FirstItem(ctx context.Context, eventID uint64) (model.InventoryItem, error) {
	const q = `SELECT id, event_id, name, capacity, claimed, per_user_limit
	           FROM inventory_items WHERE event_id = ? ORDER BY id LIMIT 1`
	var it model.InventoryItem
	err := r.db.QueryRowContext(ctx, q, eventID).Scan(
		&it.ID, &it.EventID, &it.Name, &it.Capacity, &it.Claimed, &it.PerUserLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryItem{}, allocation.ErrItemNotFound
	}
	if err != nil {
		return model.InventoryItem{}, err
	}
	return it, nil
}

// CreateItem inserts a new portion pool for an event with a zero
// claimed counter.  Resizing an existing pool goes through the
// allocation engine instead, which owns the claimed mutation path.
func (r *EventRepo) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	const q = `INSERT INTO inventory_items (event_id, name, capacity, claimed, per_user_limit)
	           VALUES (?, ?, ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, q, item.EventID, item.Name, item.Capacity, item.PerUserLimit)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = uint64(id)
	item.Claimed = 0
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
