package model

import "time"

// ClaimStatus enumerates the lifecycle states of a claim.  CLAIMED is
// the only non-terminal state; REDEEMED, CANCELLED and EXPIRED are
// absorbing.  Transitions are enforced centrally by the allocation
// engine, never by callers.
type ClaimStatus string

const (
	ClaimClaimed   ClaimStatus = "CLAIMED"
	ClaimRedeemed  ClaimStatus = "REDEEMED"
	ClaimCancelled ClaimStatus = "CANCELLED"
	ClaimExpired   ClaimStatus = "EXPIRED"
)

// Terminal reports whether the status is absorbing.
func (s ClaimStatus) Terminal() bool { return s != ClaimClaimed }

// Claim is a reservation of a quantity of portions by a user, stored in
// the `claims` table.  Claims are never physically deleted; terminal
// rows are kept for audit.
//
// Fields:
//  ID               – primary key identifier.
//  EventID          – event the claim belongs to.
//  ItemID           – portion pool the quantity was deducted from.
//  UserID           – user who made the claim.
//  Quantity         – portions reserved (>= 1).
//  Status           – lifecycle state, see ClaimStatus.
//  Code             – pickup code shown at redemption.
//  IdempotencyToken – optional client-supplied replay token.
//  ClaimedAt        – creation timestamp, immutable.
//  RedeemedAt       – set only on the transition to REDEEMED.
type Claim struct {
	ID               uint64      // claims.id
	EventID          uint64      // claims.event_id
	ItemID           uint64      // claims.item_id
	UserID           uint64      // claims.user_id
	Quantity         int         // claims.quantity
	Status           ClaimStatus // claims.status
	Code             string      // claims.code
	IdempotencyToken string      // claims.idempotency_token (empty when unused)
	ClaimedAt        time.Time   // claims.claimed_at
	RedeemedAt       *time.Time  // claims.redeemed_at (nullable)
}
