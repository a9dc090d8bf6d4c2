package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
)

// AllocationStore is the MySQL implementation of allocation.Ledger.
// It owns the hot mutation path for the inventory_items.claimed
// counter and the claims table.  Compound operations run inside a
// transaction; the claimed increment additionally carries a
// claimed + quantity <= capacity guard in SQL, so even a writer in
// another process cannot push the counter past capacity.
type AllocationStore struct {
	db *sql.DB
}

// NewAllocationStore returns a store bound to the given database.
func NewAllocationStore(db *sql.DB) *AllocationStore { return &AllocationStore{db: db} }

// DB exposes the underlying handle for callers that need to compose
// transactions across repositories.
func (s *AllocationStore) DB() *sql.DB { return s.db }

const itemColumns = `id, event_id, name, capacity, claimed, per_user_limit`

func scanItem(row interface{ Scan(...any) error }) (model.InventoryItem, error) {
	var it model.InventoryItem
	err := row.Scan(&it.ID, &it.EventID, &it.Name, &it.Capacity, &it.Claimed, &it.PerUserLimit)
	return it, err
}

// Item returns the item row, including its (capacity, claimed) pair as
// one consistent snapshot: both fields come from a single row read.
func (s *AllocationStore) Item(ctx context.Context, itemID uint64) (model.InventoryItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ?`
	it, err := scanItem(s.db.QueryRowContext(ctx, q, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryItem{}, allocation.ErrItemNotFound
	}
	if err != nil {
		return model.InventoryItem{}, err
	}
	return it, nil
}

// ItemsByEvent lists the portion pools of an event ordered by id.
func (s *AllocationStore) ItemsByEvent(ctx context.Context, eventID uint64) ([]model.InventoryItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM inventory_items WHERE event_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.InventoryItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// StoreItemCounts persists a capacity/claimed pair in one statement so
// readers never observe a torn write of the two fields.
func (s *AllocationStore) StoreItemCounts(ctx context.Context, itemID uint64, capacity, claimed int) (model.InventoryItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.InventoryItem{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ? FOR UPDATE`
	it, err := scanItem(tx.QueryRowContext(ctx, sel, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryItem{}, allocation.ErrItemNotFound
	}
	if err != nil {
		return model.InventoryItem{}, err
	}

	const upd = `UPDATE inventory_items SET capacity = ?, claimed = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, upd, capacity, claimed, itemID); err != nil {
		return model.InventoryItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.InventoryItem{}, err
	}
	committed = true

	it.Capacity = capacity
	it.Claimed = claimed
	return it, nil
}

const claimColumns = `id, event_id, item_id, user_id, quantity, status, code, idempotency_token, claimed_at, redeemed_at`

func scanClaim(row interface{ Scan(...any) error }) (model.Claim, error) {
	var c model.Claim
	var status string
	var token sql.NullString
	var redeemedAt sql.NullTime
	err := row.Scan(&c.ID, &c.EventID, &c.ItemID, &c.UserID, &c.Quantity,
		&status, &c.Code, &token, &c.ClaimedAt, &redeemedAt)
	if err != nil {
		return model.Claim{}, err
	}
	c.Status = model.ClaimStatus(status)
	if token.Valid {
		c.IdempotencyToken = token.String
	}
	if redeemedAt.Valid {
		t := redeemedAt.Time.UTC()
		c.RedeemedAt = &t
	}
	return c, nil
}

// Claim returns a claim by id.
func (s *AllocationStore) Claim(ctx context.Context, claimID uint64) (model.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims WHERE id = ?`
	c, err := scanClaim(s.db.QueryRowContext(ctx, q, claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, allocation.ErrClaimNotFound
	}
	if err != nil {
		return model.Claim{}, err
	}
	return c, nil
}

// ClaimByToken returns the claim created on the item by the user under
// the given idempotency token, if any.  A unique index on
// (item_id, user_id, idempotency_token) backs the lookup.
func (s *AllocationStore) ClaimByToken(ctx context.Context, itemID, userID uint64, token string) (model.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims
	           WHERE item_id = ? AND user_id = ? AND idempotency_token = ?`
	c, err := scanClaim(s.db.QueryRowContext(ctx, q, itemID, userID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, allocation.ErrClaimNotFound
	}
	if err != nil {
		return model.Claim{}, err
	}
	return c, nil
}

// ActiveQuantity sums the user's CLAIMED and REDEEMED quantities on an
// item.  Terminal CANCELLED/EXPIRED claims no longer count against the
// per-user limit.
func (s *AllocationStore) ActiveQuantity(ctx context.Context, itemID, userID uint64) (int, error) {
	const q = `SELECT COALESCE(SUM(quantity), 0) FROM claims
	           WHERE item_id = ? AND user_id = ? AND status IN ('CLAIMED', 'REDEEMED')`
	var total int
	if err := s.db.QueryRowContext(ctx, q, itemID, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// OpenClaims lists the CLAIMED claims on an item, oldest first.
func (s *AllocationStore) OpenClaims(ctx context.Context, itemID uint64) ([]model.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims
	           WHERE item_id = ? AND status = 'CLAIMED' ORDER BY claimed_at, id`
	return s.queryClaims(ctx, q, itemID)
}

// ClaimsByUser returns a user's full claim history, newest first.
func (s *AllocationStore) ClaimsByUser(ctx context.Context, userID uint64) ([]model.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims
	           WHERE user_id = ? ORDER BY claimed_at DESC, id DESC`
	return s.queryClaims(ctx, q, userID)
}

func (s *AllocationStore) queryClaims(ctx context.Context, q string, args ...any) ([]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	claims := make([]model.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// AppendClaim inserts the claim row and increments the item's claimed
// counter in one transaction.  The increment only succeeds while
// claimed + quantity <= capacity; when the guard fails the current
// remaining count is reported back through InsufficientPortionsError.
func (s *AllocationStore) AppendClaim(ctx context.Context, claim model.Claim) (model.Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Claim{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const guard = `UPDATE inventory_items SET claimed = claimed + ?
	               WHERE id = ? AND claimed + ? <= capacity`
	res, err := tx.ExecContext(ctx, guard, claim.Quantity, claim.ItemID, claim.Quantity)
	if err != nil {
		return model.Claim{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Claim{}, err
	}
	if affected == 0 {
		const sel = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ?`
		it, err := scanItem(tx.QueryRowContext(ctx, sel, claim.ItemID))
		if errors.Is(err, sql.ErrNoRows) {
			return model.Claim{}, allocation.ErrItemNotFound
		}
		if err != nil {
			return model.Claim{}, err
		}
		return model.Claim{}, &allocation.InsufficientPortionsError{
			ItemID:    claim.ItemID,
			Requested: claim.Quantity,
			Remaining: it.Remaining(),
		}
	}

	var token any
	if claim.IdempotencyToken != "" {
		token = claim.IdempotencyToken
	}
	const ins = `INSERT INTO claims
	             (event_id, item_id, user_id, quantity, status, code, idempotency_token, claimed_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err = tx.ExecContext(ctx, ins, claim.EventID, claim.ItemID, claim.UserID,
		claim.Quantity, string(claim.Status), claim.Code, token, claim.ClaimedAt)
	if err != nil {
		return model.Claim{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Claim{}, err
	}
	committed = true

	claim.ID = uint64(id)
	return claim, nil
}

// SettleClaim moves a CLAIMED claim to a terminal status and, when
// release is true, returns the quantity to the pool.  Both writes
// happen in one transaction and the status update is guarded on the
// current CLAIMED state, so a concurrent settle cannot release twice.
func (s *AllocationStore) SettleClaim(ctx context.Context, claimID uint64, to model.ClaimStatus, release bool, redeemedAt *time.Time) (model.Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Claim{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT ` + claimColumns + ` FROM claims WHERE id = ? FOR UPDATE`
	c, err := scanClaim(tx.QueryRowContext(ctx, sel, claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, allocation.ErrClaimNotFound
	}
	if err != nil {
		return model.Claim{}, err
	}
	if c.Status != model.ClaimClaimed {
		return model.Claim{}, &allocation.InvalidClaimStateError{ClaimID: claimID, Status: c.Status, Op: "settle"}
	}

	var at any
	if redeemedAt != nil {
		at = *redeemedAt
	}
	const upd = `UPDATE claims SET status = ?, redeemed_at = ? WHERE id = ? AND status = 'CLAIMED'`
	if _, err := tx.ExecContext(ctx, upd, string(to), at, claimID); err != nil {
		return model.Claim{}, err
	}

	if release {
		const dec = `UPDATE inventory_items SET claimed = claimed - ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, dec, c.Quantity, c.ItemID); err != nil {
			return model.Claim{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Claim{}, err
	}
	committed = true

	c.Status = to
	if redeemedAt != nil {
		t := redeemedAt.UTC()
		c.RedeemedAt = &t
	}
	return c, nil
}
