package allocation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbites/campus-food-claims/internal/model"
)

// memStore is an in-memory Ledger/EventSource/Directory used to test
// the engine without a database.  Every method takes the store mutex,
// mirroring the single-row atomicity a real store provides.
type memStore struct {
	mu          sync.Mutex
	items       map[uint64]model.InventoryItem
	claims      map[uint64]model.Claim
	events      map[uint64]model.Event
	users       map[uint64]bool
	nextClaimID uint64
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[uint64]model.InventoryItem),
		claims: make(map[uint64]model.Claim),
		events: make(map[uint64]model.Event),
		users:  make(map[uint64]bool),
	}
}

func (m *memStore) Item(ctx context.Context, itemID uint64) (model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return model.InventoryItem{}, ErrItemNotFound
	}
	return item, nil
}

func (m *memStore) ItemsByEvent(ctx context.Context, eventID uint64) ([]model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InventoryItem
	for _, item := range m.items {
		if item.EventID == eventID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) StoreItemCounts(ctx context.Context, itemID uint64, capacity, claimed int) (model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return model.InventoryItem{}, ErrItemNotFound
	}
	item.Capacity = capacity
	item.Claimed = claimed
	m.items[itemID] = item
	return item, nil
}

func (m *memStore) Claim(ctx context.Context, claimID uint64) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return model.Claim{}, ErrClaimNotFound
	}
	return c, nil
}

func (m *memStore) ClaimByToken(ctx context.Context, itemID, userID uint64, token string) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.claims {
		if c.ItemID == itemID && c.UserID == userID && c.IdempotencyToken == token {
			return c, nil
		}
	}
	return model.Claim{}, ErrClaimNotFound
}

func (m *memStore) ActiveQuantity(ctx context.Context, itemID, userID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.claims {
		if c.ItemID == itemID && c.UserID == userID &&
			(c.Status == model.ClaimClaimed || c.Status == model.ClaimRedeemed) {
			total += c.Quantity
		}
	}
	return total, nil
}

func (m *memStore) OpenClaims(ctx context.Context, itemID uint64) ([]model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Claim
	for _, c := range m.claims {
		if c.ItemID == itemID && c.Status == model.ClaimClaimed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) AppendClaim(ctx context.Context, claim model.Claim) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[claim.ItemID]
	if !ok {
		return model.Claim{}, ErrItemNotFound
	}
	if item.Claimed+claim.Quantity > item.Capacity {
		return model.Claim{}, &InsufficientPortionsError{
			ItemID:    claim.ItemID,
			Requested: claim.Quantity,
			Remaining: item.Remaining(),
		}
	}
	m.nextClaimID++
	claim.ID = m.nextClaimID
	m.claims[claim.ID] = claim
	item.Claimed += claim.Quantity
	m.items[claim.ItemID] = item
	return claim, nil
}

func (m *memStore) SettleClaim(ctx context.Context, claimID uint64, to model.ClaimStatus, release bool, redeemedAt *time.Time) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return model.Claim{}, ErrClaimNotFound
	}
	if c.Status != model.ClaimClaimed {
		return model.Claim{}, &InvalidClaimStateError{ClaimID: claimID, Status: c.Status, Op: "settle"}
	}
	c.Status = to
	c.RedeemedAt = redeemedAt
	m.claims[claimID] = c
	if release {
		item := m.items[c.ItemID]
		item.Claimed -= c.Quantity
		m.items[c.ItemID] = item
	}
	return c, nil
}

func (m *memStore) Event(ctx context.Context, eventID uint64) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	return ev, nil
}

func (m *memStore) EndedEventIDs(ctx context.Context, cutoff time.Time) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for id, ev := range m.events {
		if ev.EndTime != nil && ev.EndTime.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) UserExists(ctx context.Context, userID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID], nil
}

// conservation checks that an item's claimed counter equals the sum of
// quantities over its CLAIMED and REDEEMED claims.
func (m *memStore) conservation(t *testing.T, itemID uint64) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, c := range m.claims {
		if c.ItemID == itemID && (c.Status == model.ClaimClaimed || c.Status == model.ClaimRedeemed) {
			sum += c.Quantity
		}
	}
	item := m.items[itemID]
	assert.Equal(t, item.Claimed, sum, "claimed counter diverged from claim ledger")
	assert.GreaterOrEqual(t, item.Claimed, 0)
	assert.LessOrEqual(t, item.Claimed, item.Capacity)
}

const (
	testEventID = uint64(1)
	testItemID  = uint64(10)
	testUserID  = uint64(100)
)

// newTestEngine seeds one active event with a single portion pool and
// a handful of users.
func newTestEngine(capacity, perUserLimit int) (*Engine, *memStore) {
	store := newMemStore()
	store.events[testEventID] = model.Event{ID: testEventID, Status: model.EventActive}
	store.items[testItemID] = model.InventoryItem{
		ID:           testItemID,
		EventID:      testEventID,
		Name:         model.DefaultItemName,
		Capacity:     capacity,
		PerUserLimit: perUserLimit,
	}
	for u := uint64(100); u < 200; u++ {
		store.users[u] = true
	}
	return New(store, store, store), store
}

func TestReserveCreatesClaim(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	claim, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	require.NoError(t, err)

	assert.Equal(t, model.ClaimClaimed, claim.Status)
	assert.Equal(t, 2, claim.Quantity)
	assert.NotEmpty(t, claim.Code)
	assert.False(t, claim.ClaimedAt.IsZero())
	assert.Nil(t, claim.RedeemedAt)

	item, err := eng.Item(context.Background(), testItemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Remaining())
	store.conservation(t, testItemID)
}

func TestReserveRejectsBadQuantity(t *testing.T) {
	eng, _ := newTestEngine(5, 0)
	for _, q := range []int{0, -1} {
		_, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, q, "")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestReserveEventStatusGate(t *testing.T) {
	for _, status := range []model.EventStatus{model.EventDraft, model.EventEnded, model.EventCancelled} {
		eng, store := newTestEngine(5, 0)
		ev := store.events[testEventID]
		ev.Status = status
		store.events[testEventID] = ev

		_, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 1, "")
		var notClaimable *EventNotClaimableError
		require.ErrorAs(t, err, &notClaimable, "status %s", status)
		assert.Equal(t, status, notClaimable.Status)
	}

	// PUBLISHED accepts claims like ACTIVE does.
	eng, store := newTestEngine(5, 0)
	ev := store.events[testEventID]
	ev.Status = model.EventPublished
	store.events[testEventID] = ev
	_, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 1, "")
	assert.NoError(t, err)
}

func TestReserveUnknownReferences(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	_, err := eng.Reserve(context.Background(), 999, testItemID, testUserID, 1, "")
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = eng.Reserve(context.Background(), testEventID, 999, testUserID, 1, "")
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = eng.Reserve(context.Background(), testEventID, testItemID, 999, 1, "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Item belonging to a different event is not reachable through this
	// event's id.
	store.events[2] = model.Event{ID: 2, Status: model.EventActive}
	_, err = eng.Reserve(context.Background(), 2, testItemID, testUserID, 1, "")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestReserveInsufficientPortions(t *testing.T) {
	eng, store := newTestEngine(3, 0)

	_, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	require.NoError(t, err)

	_, err = eng.Reserve(context.Background(), testEventID, testItemID, 101, 2, "")
	var insufficient *InsufficientPortionsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Remaining)
	assert.Equal(t, 2, insufficient.Requested)
	store.conservation(t, testItemID)
}

func TestReservePerUserLimit(t *testing.T) {
	eng, store := newTestEngine(10, 3)

	_, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	require.NoError(t, err)

	_, err = eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	var limit *PerUserLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 3, limit.Limit)
	assert.Equal(t, 2, limit.Used)

	// Redeemed quantities still count against the limit.
	claims, err := store.OpenClaims(context.Background(), testItemID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	_, err = eng.Redeem(context.Background(), claims[0].ID)
	require.NoError(t, err)
	_, err = eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	assert.ErrorAs(t, err, &limit)

	// Another user is unaffected.
	_, err = eng.Reserve(context.Background(), testEventID, testItemID, 101, 3, "")
	assert.NoError(t, err)
	store.conservation(t, testItemID)
}

func TestReserveIdempotencyToken(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	first, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "tok-1")
	require.NoError(t, err)

	replay, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, first.Code, replay.Code)

	item, err := eng.Item(context.Background(), testItemID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Claimed, "replay must not deduct twice")

	// A different token creates a fresh claim.
	other, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 1, "tok-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	store.conservation(t, testItemID)
}

func TestConcurrentReserveNoOversell(t *testing.T) {
	const capacity = 20
	const requests = 50

	eng, store := newTestEngine(capacity, 0)

	var success, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			_, err := eng.Reserve(context.Background(), testEventID, testItemID, user, 1, "")
			switch {
			case err == nil:
				success.Add(1)
			default:
				var ip *InsufficientPortionsError
				if errors.As(err, &ip) {
					insufficient.Add(1)
				}
			}
		}(100 + uint64(i%100))
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), success.Load())
	assert.Equal(t, int32(requests-capacity), insufficient.Load())

	item, err := eng.Item(context.Background(), testItemID)
	require.NoError(t, err)
	assert.Equal(t, capacity, item.Claimed)
	store.conservation(t, testItemID)
}

func TestRedeemFinalizesWithoutRelease(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	claim, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 2, "")
	require.NoError(t, err)

	redeemed, err := eng.Redeem(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRedeemed, redeemed.Status)
	require.NotNil(t, redeemed.RedeemedAt)

	item, err := eng.Item(context.Background(), testItemID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Claimed, "redeem must not release portions")

	// Terminal states are absorbing.
	var state *InvalidClaimStateError
	_, err = eng.Redeem(context.Background(), claim.ID)
	require.ErrorAs(t, err, &state)
	_, err = eng.Cancel(context.Background(), claim.ID)
	require.ErrorAs(t, err, &state)
	store.conservation(t, testItemID)
}

func TestCancelReleasesQuantity(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	claim, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 3, "")
	require.NoError(t, err)

	cancelled, err := eng.Cancel(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimCancelled, cancelled.Status)

	item, err := eng.Item(context.Background(), testItemID)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Claimed)

	var state *InvalidClaimStateError
	_, err = eng.Cancel(context.Background(), claim.ID)
	require.ErrorAs(t, err, &state)
	_, err = eng.Redeem(context.Background(), claim.ID)
	require.ErrorAs(t, err, &state)
	store.conservation(t, testItemID)
}

func TestSettleUnknownClaim(t *testing.T) {
	eng, _ := newTestEngine(5, 0)
	_, err := eng.Redeem(context.Background(), 999)
	assert.ErrorIs(t, err, ErrClaimNotFound)
	_, err = eng.Cancel(context.Background(), 999)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

// The walkthrough from the product side: two portions, one per user.
func TestReserveScenario(t *testing.T) {
	eng, store := newTestEngine(2, 1)
	ctx := context.Background()
	userA, userB, userC := uint64(100), uint64(101), uint64(102)

	claimA, err := eng.Reserve(ctx, testEventID, testItemID, userA, 1, "")
	require.NoError(t, err)
	item, _ := eng.Item(ctx, testItemID)
	assert.Equal(t, 1, item.Remaining())

	_, err = eng.Reserve(ctx, testEventID, testItemID, userA, 1, "")
	var limit *PerUserLimitError
	require.ErrorAs(t, err, &limit)

	_, err = eng.Reserve(ctx, testEventID, testItemID, userB, 1, "")
	require.NoError(t, err)
	item, _ = eng.Item(ctx, testItemID)
	assert.Equal(t, 0, item.Remaining())

	_, err = eng.Reserve(ctx, testEventID, testItemID, userC, 1, "")
	var insufficient *InsufficientPortionsError
	require.ErrorAs(t, err, &insufficient)

	_, err = eng.Cancel(ctx, claimA.ID)
	require.NoError(t, err)
	item, _ = eng.Item(ctx, testItemID)
	assert.Equal(t, 1, item.Remaining())

	_, err = eng.Reserve(ctx, testEventID, testItemID, userC, 1, "")
	require.NoError(t, err)
	store.conservation(t, testItemID)
}

func TestExpireReleasesOpenClaims(t *testing.T) {
	eng, store := newTestEngine(10, 0)
	ctx := context.Background()

	claimed, err := eng.Reserve(ctx, testEventID, testItemID, testUserID, 2, "")
	require.NoError(t, err)
	redeemed, err := eng.Reserve(ctx, testEventID, testItemID, 101, 3, "")
	require.NoError(t, err)
	_, err = eng.Redeem(ctx, redeemed.ID)
	require.NoError(t, err)

	// Event still running: nothing expires.
	end := time.Now().UTC().Add(time.Hour)
	ev := store.events[testEventID]
	ev.EndTime = &end
	store.events[testEventID] = ev
	n, err := eng.ExpireItem(ctx, testItemID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Event over: the open claim expires, the redeemed one stays.
	cutoff := end.Add(time.Hour)
	n, err = eng.ExpireItem(ctx, testItemID, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Claim(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimExpired, got.Status)
	got, err = store.Claim(ctx, redeemed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRedeemed, got.Status)

	item, err := eng.Item(ctx, testItemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Claimed, "only the redeemed quantity stays consumed")

	// Idempotent: a second sweep with the same cutoff is a no-op.
	n, err = eng.ExpireItem(ctx, testItemID, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	store.conservation(t, testItemID)
}

func TestExpireDueSweepsEndedEvents(t *testing.T) {
	eng, store := newTestEngine(10, 0)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	ev := store.events[testEventID]
	ev.EndTime = &past
	store.events[testEventID] = ev

	// Second event still running.
	future := time.Now().UTC().Add(time.Hour)
	store.events[2] = model.Event{ID: 2, Status: model.EventActive, EndTime: &future}
	store.items[11] = model.InventoryItem{ID: 11, EventID: 2, Capacity: 5}

	_, err := eng.Reserve(ctx, testEventID, testItemID, testUserID, 1, "")
	require.NoError(t, err)
	live, err := eng.Reserve(ctx, 2, 11, testUserID, 1, "")
	require.NoError(t, err)

	n, err := eng.ExpireDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Claim(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimClaimed, got.Status, "running event must keep its claims")
}

func TestExpireUnknownIDs(t *testing.T) {
	eng, _ := newTestEngine(5, 0)
	_, err := eng.ExpireItem(context.Background(), 999, time.Now())
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = eng.ExpireEvent(context.Background(), 999, time.Now())
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestSetCapacity(t *testing.T) {
	eng, _ := newTestEngine(10, 0)
	ctx := context.Background()

	_, _, err := eng.SetCapacity(ctx, testItemID, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	for i := 0; i < 10; i++ {
		_, err := eng.Reserve(ctx, testEventID, testItemID, 100+uint64(i), 1, "")
		require.NoError(t, err)
	}

	// Shrinking below claimed clamps the counter down.
	item, clamped, err := eng.SetCapacity(ctx, testItemID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Capacity)
	assert.Equal(t, 5, item.Claimed)
	assert.Equal(t, 5, clamped)

	// Growing never raises claimed.
	item, clamped, err = eng.SetCapacity(ctx, testItemID, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, item.Capacity)
	assert.Equal(t, 5, item.Claimed)
	assert.Equal(t, 0, clamped)

	_, _, err = eng.SetCapacity(ctx, 999, 5)
	assert.ErrorIs(t, err, ErrItemNotFound)

	item, err = eng.Item(ctx, testItemID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, item.Claimed, 0)
	assert.LessOrEqual(t, item.Claimed, item.Capacity)
}

func TestCorruptLedgerDetected(t *testing.T) {
	eng, store := newTestEngine(5, 0)
	item := store.items[testItemID]
	item.Claimed = item.Capacity + 1
	store.items[testItemID] = item

	var corrupt *ConsistencyError
	_, err := eng.Item(context.Background(), testItemID)
	require.ErrorAs(t, err, &corrupt)
	_, err = eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 1, "")
	require.ErrorAs(t, err, &corrupt)
}
