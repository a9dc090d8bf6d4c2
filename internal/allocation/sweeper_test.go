package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbites/campus-food-claims/internal/model"
)

func TestSweeperRunsOnceBeforeExit(t *testing.T) {
	eng, store := newTestEngine(5, 0)

	past := time.Now().UTC().Add(-time.Hour)
	ev := store.events[testEventID]
	ev.EndTime = &past
	store.events[testEventID] = ev

	claim, err := eng.Reserve(context.Background(), testEventID, testItemID, testUserID, 1, "")
	require.NoError(t, err)

	// Run performs an immediate sweep before waiting on the ticker, so
	// a pre-cancelled context still gets exactly one pass.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewSweeper(eng, time.Hour).Run(ctx)

	got, err := store.Claim(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimExpired, got.Status)
}

func TestNewSweeperDefaultsInterval(t *testing.T) {
	eng, _ := newTestEngine(1, 0)
	s := NewSweeper(eng, 0)
	assert.Equal(t, time.Minute, s.interval)
}
