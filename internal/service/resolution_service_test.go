package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

// tradeUp seeds a buy for the given user while the market is still
// active, then returns what it cost.
func tradeUp(t *testing.T, h *harness, marketID, userID string, side domain.Side, shares int64) int64 {
	t.Helper()
	res, err := h.trade.Execute(context.Background(), TradeRequest{
		MarketID: marketID, UserID: userID,
		Side: side, Shares: shares, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)
	return res.AmountCents
}

func TestResolutionPaysWinnersAndZeroesLosers(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedAccount(t, "bob", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Minute))

	aliceCost := tradeUp(t, h, "m1", "alice", domain.SideYes, 30)
	bobCost := tradeUp(t, h, "m1", "bob", domain.SideNo, 20)

	ctx := context.Background()
	require.NoError(t, h.store.ForceClose(ctx, "m1", time.Now().UTC()))

	payouts, err := h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"alice": 3000}, payouts)

	// Winner gets 100 cents per share, loser gets nothing.
	assert.Equal(t, int64(100_000-aliceCost+3000), h.balance(t, "alice"))
	assert.Equal(t, int64(100_000-bobCost), h.balance(t, "bob"))

	m := h.getMarket(t, "m1")
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.ResolvedOutcome)
	assert.Equal(t, domain.SideYes, *m.ResolvedOutcome)

	// Every position zeroed, PnL realized.
	alicePos, err := h.store.Positions().ListByUserMarket(ctx, "alice", "m1")
	require.NoError(t, err)
	require.Len(t, alicePos, 1)
	assert.Equal(t, int64(0), alicePos[0].Quantity)
	assert.Equal(t, int64(3000)-aliceCost, alicePos[0].RealizedPnLCents)

	bobPos, err := h.store.Positions().ListByUserMarket(ctx, "bob", "m1")
	require.NoError(t, err)
	require.Len(t, bobPos, 1)
	assert.Equal(t, int64(0), bobPos[0].Quantity)
	assert.Equal(t, -bobCost, bobPos[0].RealizedPnLCents)

	// Settlement appended one trade per position on top of the two buys.
	trades, err := h.store.ListByMarket(ctx, "m1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, trades, 4)
}

func TestResolutionIsOneShot(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Minute))
	tradeUp(t, h, "m1", "alice", domain.SideYes, 10)

	ctx := context.Background()
	require.NoError(t, h.store.ForceClose(ctx, "m1", time.Now().UTC()))

	_, err := h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.NoError(t, err)
	balance := h.balance(t, "alice")

	_, err = h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = h.resolution.Resolve(ctx, "m1", domain.SideNo)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	// No double credit.
	assert.Equal(t, balance, h.balance(t, "alice"))
}

func TestResolutionRequiresClosedMarket(t *testing.T) {
	h := newHarness(t)
	h.seedMarket(t, "open", domain.MarketStatusActive, time.Now().Add(time.Hour))
	h.seedMarket(t, "pending", domain.MarketStatusPendingReview, time.Now().Add(time.Hour))
	h.seedMarket(t, "rejected", domain.MarketStatusRejected, time.Now().Add(time.Hour))

	ctx := context.Background()
	_, err := h.resolution.Resolve(ctx, "open", domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrMarketOpen)

	_, err = h.resolution.Resolve(ctx, "pending", domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.resolution.Resolve(ctx, "rejected", domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.resolution.Resolve(ctx, "open", "maybe")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolutionOverdueMarketNeedsNoSweep(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)

	// Still marked active but past its close time: resolvable as-is.
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(50*time.Millisecond))
	tradeUp(t, h, "m1", "alice", domain.SideNo, 5)
	time.Sleep(60 * time.Millisecond)

	payouts, err := h.resolution.Resolve(context.Background(), "m1", domain.SideNo)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"alice": 500}, payouts)
}

func TestResolutionConflictsWhileLockHeld(t *testing.T) {
	h := newHarness(t)
	h.seedMarket(t, "m1", domain.MarketStatusClosed, time.Now().Add(-time.Hour))

	ctx := context.Background()
	unlock, err := h.locker.Acquire(ctx, "resolve:m1", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.resolution.Resolve(ctx, "m1", domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestNoTradingAfterResolution(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusClosed, time.Now().Add(-time.Hour))

	ctx := context.Background()
	_, err := h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.NoError(t, err)

	_, err = h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 1, Direction: domain.DirectionBuy,
	})
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}
