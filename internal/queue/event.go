// Package queue defines message payloads exchanged over the message broker.
package queue

// ClaimRedeemedEvent is published when a claim is redeemed at pickup.
// It carries enough information for downstream consumers to log or
// notify without querying the primary database.
type ClaimRedeemedEvent struct {
	ClaimID    uint64 `json:"claim_id"`
	EventID    uint64 `json:"event_id"`
	EventTitle string `json:"event_title"`
	ItemID     uint64 `json:"item_id"`
	ItemName   string `json:"item_name"`
	UserID     uint64 `json:"user_id"`
	Quantity   int    `json:"quantity"`
	Code       string `json:"code"`
	RedeemedAt string `json:"redeemed_at"`
}

// PortionsReconcileEvent is published when a capacity shrink clamps an
// item's claimed counter below the quantities held by open claims.
// Consumers use it to notify affected users that part of their claim
// can no longer be honored.
type PortionsReconcileEvent struct {
	EventID     uint64 `json:"event_id"`
	ItemID      uint64 `json:"item_id"`
	NewCapacity int    `json:"new_capacity"`
	Clamped     int    `json:"clamped"`
	OccurredAt  string `json:"occurred_at"`
}
