// Package allocation implements the portion claim and allocation
// engine: the one component that may mutate an inventory item's
// claimed counter and a claim's status.  All failures below are
// expected, recoverable-by-caller conditions; handlers translate them
// into HTTP statuses.  Only ConsistencyError indicates an internal
// fault.
package allocation

import (
	"errors"
	"fmt"

	"github.com/campusbites/campus-food-claims/internal/model"
)

// Sentinel errors returned by the engine and by Ledger/EventSource/
// Directory implementations.  Store implementations must return (or
// wrap) these so callers can match with errors.Is regardless of the
// backing storage.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrItemNotFound  = errors.New("inventory item not found")
	ErrClaimNotFound = errors.New("claim not found")
	ErrUserNotFound  = errors.New("user not found")

	// ErrInvalidArgument flags malformed input such as a zero quantity
	// or a negative capacity.  Wrapped values carry the detail.
	ErrInvalidArgument = errors.New("invalid argument")
)

// EventNotClaimableError is returned when a reserve targets an event
// whose status does not accept claims (DRAFT, ENDED or CANCELLED).
type EventNotClaimableError struct {
	EventID uint64
	Status  model.EventStatus
}

func (e *EventNotClaimableError) Error() string {
	return fmt.Sprintf("event %d is not claimable in status %s", e.EventID, e.Status)
}

// InsufficientPortionsError is returned when a reserve would push an
// item's claimed counter past its capacity.  Remaining carries the
// portions still available so callers can show it to the user.
type InsufficientPortionsError struct {
	ItemID    uint64
	Requested int
	Remaining int
}

func (e *InsufficientPortionsError) Error() string {
	return fmt.Sprintf("item %d has %d portions remaining, requested %d", e.ItemID, e.Remaining, e.Requested)
}

// PerUserLimitError is returned when a reserve would push a user's
// active quantity on an item past the item's per-user limit.
type PerUserLimitError struct {
	ItemID    uint64
	UserID    uint64
	Limit     int
	Used      int
	Requested int
}

func (e *PerUserLimitError) Error() string {
	return fmt.Sprintf("user %d already holds %d of %d allowed on item %d, requested %d",
		e.UserID, e.Used, e.Limit, e.ItemID, e.Requested)
}

// InvalidClaimStateError is returned for illegal claim transitions,
// e.g. a double redeem or a cancel after redemption.  Terminal states
// are absorbing, so any second transition attempt lands here.
type InvalidClaimStateError struct {
	ClaimID uint64
	Status  model.ClaimStatus
	Op      string
}

func (e *InvalidClaimStateError) Error() string {
	return fmt.Sprintf("cannot %s claim %d in status %s", e.Op, e.ClaimID, e.Status)
}

// ConsistencyError reports a violation of the core invariant
// (claimed negative or exceeding capacity) observed at rest.  It
// should never occur when serialization is working; its presence
// indicates a concurrency bug and is surfaced as an internal error.
type ConsistencyError struct {
	ItemID   uint64
	Capacity int
	Claimed  int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("item %d ledger corrupt: claimed=%d capacity=%d", e.ItemID, e.Claimed, e.Capacity)
}
