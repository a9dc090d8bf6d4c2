package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusbites/campus-food-claims/internal/model"
)

// Ledger is the storage collaborator holding inventory items and claim
// records.  Each method is atomic at the storage level; compound
// read-modify-write sequences are serialized per item by the Engine,
// so implementations do not need their own item-level locking (though
// a durable store should still guard its writes, see AppendClaim).
type Ledger interface {
	// Item returns the current (capacity, claimed) pair of an item as a
	// single consistent snapshot.  Returns ErrItemNotFound.
	Item(ctx context.Context, itemID uint64) (model.InventoryItem, error)

	// ItemsByEvent lists the portion pools of an event.
	ItemsByEvent(ctx context.Context, eventID uint64) ([]model.InventoryItem, error)

	// StoreItemCounts persists a new capacity/claimed pair atomically.
	StoreItemCounts(ctx context.Context, itemID uint64, capacity, claimed int) (model.InventoryItem, error)

	// Claim returns a claim by id.  Returns ErrClaimNotFound.
	Claim(ctx context.Context, claimID uint64) (model.Claim, error)

	// ClaimByToken returns the claim previously created on the item by
	// the user under the given idempotency token, or ErrClaimNotFound
	// when no such claim exists.
	ClaimByToken(ctx context.Context, itemID, userID uint64, token string) (model.Claim, error)

	// ActiveQuantity sums quantity over the user's CLAIMED and REDEEMED
	// claims on the item.
	ActiveQuantity(ctx context.Context, itemID, userID uint64) (int, error)

	// OpenClaims lists the CLAIMED claims on an item.
	OpenClaims(ctx context.Context, itemID uint64) ([]model.Claim, error)

	// AppendClaim inserts the claim row and increments the item's
	// claimed counter by claim.Quantity in one atomic step.  A durable
	// implementation should additionally guard the increment with
	// claimed+quantity <= capacity and return InsufficientPortionsError
	// when the guard fails, so that writers outside this process cannot
	// oversell either.
	AppendClaim(ctx context.Context, claim model.Claim) (model.Claim, error)

	// SettleClaim transitions a CLAIMED claim to the given terminal
	// status and, when release is true, decrements the item's claimed
	// counter by the claim's quantity — both in one atomic step.
	// redeemedAt is persisted only for the REDEEMED transition.
	SettleClaim(ctx context.Context, claimID uint64, to model.ClaimStatus, release bool, redeemedAt *time.Time) (model.Claim, error)
}

// EventSource supplies event lifecycle state.  The engine reads event
// status to gate reservations and event end times to drive expiry; it
// never writes events.
type EventSource interface {
	Event(ctx context.Context, eventID uint64) (model.Event, error)
	EndedEventIDs(ctx context.Context, cutoff time.Time) ([]uint64, error)
}

// Directory validates user foreign keys before a claim is created.
type Directory interface {
	UserExists(ctx context.Context, userID uint64) (bool, error)
}

// Engine owns the mutation path for inventory claimed counters and
// claim statuses.  All operations on the same item are serialized by a
// per-item mutex; operations on different items proceed in parallel.
type Engine struct {
	ledger Ledger
	events EventSource
	dir    Directory

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex

	now func() time.Time
}

// New constructs an Engine.  All collaborators must be non-nil.
func New(ledger Ledger, events EventSource, dir Directory) *Engine {
	if ledger == nil || events == nil || dir == nil {
		panic("nil collaborator passed to allocation.New")
	}
	return &Engine{
		ledger: ledger,
		events: events,
		dir:    dir,
		locks:  make(map[uint64]*sync.Mutex),
		now:    time.Now,
	}
}

// lockItem acquires the mutex for a single item, creating it on first
// use.  Entries are never removed; the map is bounded by the number of
// distinct items touched by this process.
func (e *Engine) lockItem(itemID uint64) func() {
	e.mu.Lock()
	l, ok := e.locks[itemID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[itemID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// checkItem validates the core invariant on a freshly read item.  A
// violation means the ledger was corrupted by a writer bypassing the
// engine; it is logged and surfaced as a ConsistencyError.
func (e *Engine) checkItem(item model.InventoryItem) error {
	if item.Claimed < 0 || item.Claimed > item.Capacity {
		err := &ConsistencyError{ItemID: item.ID, Capacity: item.Capacity, Claimed: item.Claimed}
		log.Printf("allocation: %v", err)
		return err
	}
	return nil
}

// Reserve atomically deducts quantity from the item's available supply
// and creates a CLAIMED claim for the user.  When token is non-empty
// and a claim already exists for (item, user, token), that claim is
// returned unchanged and no second deduction happens.
//
// Under contention the first request to complete the check-and-
// increment wins; later requests observe the updated counter and may
// fail with InsufficientPortionsError regardless of arrival order.
func (e *Engine) Reserve(ctx context.Context, eventID, itemID, userID uint64, quantity int, token string) (model.Claim, error) {
	if quantity < 1 {
		return model.Claim{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}

	event, err := e.events.Event(ctx, eventID)
	if err != nil {
		return model.Claim{}, err
	}
	if !event.Status.Claimable() {
		return model.Claim{}, &EventNotClaimableError{EventID: eventID, Status: event.Status}
	}

	ok, err := e.dir.UserExists(ctx, userID)
	if err != nil {
		return model.Claim{}, err
	}
	if !ok {
		return model.Claim{}, ErrUserNotFound
	}

	unlock := e.lockItem(itemID)
	defer unlock()

	if token != "" {
		existing, err := e.ledger.ClaimByToken(ctx, itemID, userID, token)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrClaimNotFound) {
			return model.Claim{}, err
		}
	}

	item, err := e.ledger.Item(ctx, itemID)
	if err != nil {
		return model.Claim{}, err
	}
	if item.EventID != eventID {
		return model.Claim{}, ErrItemNotFound
	}
	if err := e.checkItem(item); err != nil {
		return model.Claim{}, err
	}

	if item.PerUserLimit > 0 {
		used, err := e.ledger.ActiveQuantity(ctx, itemID, userID)
		if err != nil {
			return model.Claim{}, err
		}
		if used+quantity > item.PerUserLimit {
			return model.Claim{}, &PerUserLimitError{
				ItemID:    itemID,
				UserID:    userID,
				Limit:     item.PerUserLimit,
				Used:      used,
				Requested: quantity,
			}
		}
	}

	if item.Claimed+quantity > item.Capacity {
		return model.Claim{}, &InsufficientPortionsError{
			ItemID:    itemID,
			Requested: quantity,
			Remaining: item.Remaining(),
		}
	}

	claim := model.Claim{
		EventID:          eventID,
		ItemID:           itemID,
		UserID:           userID,
		Quantity:         quantity,
		Status:           model.ClaimClaimed,
		Code:             uuid.NewString(),
		IdempotencyToken: token,
		ClaimedAt:        e.now().UTC(),
	}
	return e.ledger.AppendClaim(ctx, claim)
}

// Redeem marks a CLAIMED claim as fulfilled.  Redemption is final and
// does not change the item's claimed counter: a redeemed portion stays
// counted as consumed supply.
func (e *Engine) Redeem(ctx context.Context, claimID uint64) (model.Claim, error) {
	return e.settle(ctx, claimID, "redeem", model.ClaimRedeemed, false)
}

// Cancel voids a CLAIMED claim and releases its quantity back to the
// pool.  A redeemed claim cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, claimID uint64) (model.Claim, error) {
	return e.settle(ctx, claimID, "cancel", model.ClaimCancelled, true)
}

func (e *Engine) settle(ctx context.Context, claimID uint64, op string, to model.ClaimStatus, release bool) (model.Claim, error) {
	claim, err := e.ledger.Claim(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}

	unlock := e.lockItem(claim.ItemID)
	defer unlock()

	// Re-read under the lock: the status may have changed between the
	// unlocked read and lock acquisition.
	claim, err = e.ledger.Claim(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	if claim.Status != model.ClaimClaimed {
		return model.Claim{}, &InvalidClaimStateError{ClaimID: claimID, Status: claim.Status, Op: op}
	}

	var redeemedAt *time.Time
	if to == model.ClaimRedeemed {
		t := e.now().UTC()
		redeemedAt = &t
	}
	settled, err := e.ledger.SettleClaim(ctx, claimID, to, release, redeemedAt)
	if err != nil {
		return model.Claim{}, err
	}

	if release {
		item, err := e.ledger.Item(ctx, claim.ItemID)
		if err == nil {
			if cerr := e.checkItem(item); cerr != nil {
				return model.Claim{}, cerr
			}
		}
	}
	return settled, nil
}

// ExpireItem transitions every CLAIMED claim on the item to EXPIRED,
// releasing quantities exactly as cancel does, provided the owning
// event ended before cutoff.  Re-running with the same cutoff is a
// no-op: already-expired claims are no longer CLAIMED.  Returns the
// number of claims expired.
func (e *Engine) ExpireItem(ctx context.Context, itemID uint64, cutoff time.Time) (int, error) {
	unlock := e.lockItem(itemID)
	defer unlock()
	return e.expireItemLocked(ctx, itemID, cutoff)
}

func (e *Engine) expireItemLocked(ctx context.Context, itemID uint64, cutoff time.Time) (int, error) {
	item, err := e.ledger.Item(ctx, itemID)
	if err != nil {
		return 0, err
	}
	event, err := e.events.Event(ctx, item.EventID)
	if err != nil {
		return 0, err
	}
	if event.EndTime == nil || !event.EndTime.Before(cutoff) {
		return 0, nil
	}

	open, err := e.ledger.OpenClaims(ctx, itemID)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range open {
		if _, err := e.ledger.SettleClaim(ctx, c.ID, model.ClaimExpired, true, nil); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ExpireEvent sweeps every portion pool of the event, expiring
// unredeemed claims once the event has ended.  Returns the total
// number of claims expired across all pools.
func (e *Engine) ExpireEvent(ctx context.Context, eventID uint64, cutoff time.Time) (int, error) {
	if _, err := e.events.Event(ctx, eventID); err != nil {
		return 0, err
	}
	items, err := e.ledger.ItemsByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, item := range items {
		n, err := e.ExpireItem(ctx, item.ID, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ExpireDue expires claims for every event that ended before cutoff.
// It is the entry point used by the background sweeper.
func (e *Engine) ExpireDue(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := e.events.EndedEventIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := e.ExpireEvent(ctx, id, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SetCapacity resizes an item's portion pool.  Shrinking below the
// current claimed count clamps claimed down to the new capacity and
// returns the clamped amount so callers can flag the affected claims
// for reconciliation; growing never raises claimed.
func (e *Engine) SetCapacity(ctx context.Context, itemID uint64, capacity int) (model.InventoryItem, int, error) {
	if capacity < 0 {
		return model.InventoryItem{}, 0, fmt.Errorf("%w: capacity must not be negative", ErrInvalidArgument)
	}

	unlock := e.lockItem(itemID)
	defer unlock()

	item, err := e.ledger.Item(ctx, itemID)
	if err != nil {
		return model.InventoryItem{}, 0, err
	}

	claimed := item.Claimed
	clamped := 0
	if claimed > capacity {
		clamped = claimed - capacity
		claimed = capacity
	}
	updated, err := e.ledger.StoreItemCounts(ctx, itemID, capacity, claimed)
	if err != nil {
		return model.InventoryItem{}, 0, err
	}
	if clamped > 0 {
		log.Printf("allocation: item %d capacity shrunk below claimed count, clamped %d portions; open claims need reconciliation", itemID, clamped)
	}
	return updated, clamped, nil
}

// Item returns an item after validating the core invariant, so every
// read path observes 0 <= claimed <= capacity.
func (e *Engine) Item(ctx context.Context, itemID uint64) (model.InventoryItem, error) {
	item, err := e.ledger.Item(ctx, itemID)
	if err != nil {
		return model.InventoryItem{}, err
	}
	if err := e.checkItem(item); err != nil {
		return model.InventoryItem{}, err
	}
	return item, nil
}
