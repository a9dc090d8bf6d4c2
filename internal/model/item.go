package model

// InventoryItem is a named pool of claimable portions belonging to one
// event, stored in the `inventory_items` table.  Capacity is the total
// number of portions made available; Claimed is the sum of quantities
// across all CLAIMED and REDEEMED claims on the pool.  The allocation
// engine is the only writer of Claimed; every reader must observe
// 0 <= Claimed <= Capacity.
//
// Fields:
//  ID           – primary key identifier.
//  EventID      – owning event.
//  Name         – pool name (e.g. "General Portions").
//  Capacity     – total portions made available (>= 0).
//  Claimed      – portions currently accounted to active claims.
//  PerUserLimit – per-user cap across the pool; 0 means unlimited.
type InventoryItem struct {
	ID           uint64 // inventory_items.id
	EventID      uint64 // inventory_items.event_id
	Name         string // inventory_items.name
	Capacity     int    // inventory_items.capacity
	Claimed      int    // inventory_items.claimed
	PerUserLimit int    // inventory_items.per_user_limit
}

// Remaining returns the number of portions still claimable.
func (i InventoryItem) Remaining() int { return i.Capacity - i.Claimed }

// Available reports whether at least one portion can still be claimed.
func (i InventoryItem) Available() bool { return i.Remaining() > 0 }

// DefaultItemName is the pool name used when an event defines its
// portions as a single meal count rather than named pools.
const DefaultItemName = "General Portions"
