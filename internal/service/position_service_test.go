package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func TestPositionServiceListForUser(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))
	h.seedMarket(t, "m2", domain.MarketStatusActive, time.Now().Add(time.Hour))

	cost := tradeUp(t, h, "m1", "alice", domain.SideYes, 40)
	tradeUp(t, h, "m2", "alice", domain.SideNo, 10)

	ctx := context.Background()
	views, err := h.position.ListForUser(ctx, "alice", "", "")
	require.NoError(t, err)
	require.Len(t, views, 2)

	views, err = h.position.ListForUser(ctx, "alice", "m1", "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]

	assert.Equal(t, "m1", v.MarketID)
	assert.Equal(t, domain.SideYes, v.Side)
	assert.Equal(t, int64(40), v.Quantity)
	assert.True(t, v.Open)

	// Average price paid and marked value follow the buy itself: a net
	// yes buy leaves the marginal yes price above the average paid.
	m := h.getMarket(t, "m1")
	assert.Equal(t, (cost*100+20)/40, v.AvgPriceBps)
	assert.Greater(t, v.CurrentPriceBps, v.AvgPriceBps)
	assert.Greater(t, v.CurrentPnLCents, int64(0))
	assert.Greater(t, v.PctChange, 0.0)
	assert.Equal(t, int64(40), m.QYes)
}

func TestPositionServiceStatusFilter(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "open", domain.MarketStatusActive, time.Now().Add(time.Hour))
	h.seedMarket(t, "done", domain.MarketStatusClosed, time.Now().Add(-time.Hour))

	tradeUp(t, h, "open", "alice", domain.SideYes, 5)

	ctx := context.Background()
	_, err := h.resolution.Resolve(ctx, "done", domain.SideYes)
	require.NoError(t, err)

	// A market with no position for alice contributes nothing.
	open, err := h.position.ListForUser(ctx, "alice", "", "open")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open", open[0].MarketID)

	closed, err := h.position.ListForUser(ctx, "alice", "", "closed")
	require.NoError(t, err)
	assert.Empty(t, closed)

	_, err = h.position.ListForUser(ctx, "alice", "", "bogus")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPositionServiceResolvedMarketPegsPrice(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedAccount(t, "bob", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Minute))

	aliceCost := tradeUp(t, h, "m1", "alice", domain.SideYes, 10)
	bobCost := tradeUp(t, h, "m1", "bob", domain.SideNo, 10)

	ctx := context.Background()
	require.NoError(t, h.store.ForceClose(ctx, "m1", time.Now().UTC()))
	_, err := h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.NoError(t, err)

	aliceViews, err := h.position.ListForUser(ctx, "alice", "m1", "")
	require.NoError(t, err)
	require.Len(t, aliceViews, 1)
	assert.False(t, aliceViews[0].Open)
	assert.Equal(t, int64(1000)-aliceCost, aliceViews[0].RealizedPnLCents)
	assert.Equal(t, aliceViews[0].RealizedPnLCents, aliceViews[0].CurrentPnLCents)

	bobViews, err := h.position.ListForUser(ctx, "bob", "m1", "")
	require.NoError(t, err)
	require.Len(t, bobViews, 1)
	assert.Equal(t, -bobCost, bobViews[0].RealizedPnLCents)
}

func TestPositionServiceSellRealizesPnL(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedAccount(t, "bob", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	tradeUp(t, h, "m1", "alice", domain.SideYes, 20)

	// Bob's buy pushes the yes price up, so alice sells at a profit.
	tradeUp(t, h, "m1", "bob", domain.SideYes, 50)

	ctx := context.Background()
	_, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 20, Direction: domain.DirectionSell,
	})
	require.NoError(t, err)

	views, err := h.position.ListForUser(ctx, "alice", "m1", "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(0), views[0].Quantity)
	assert.Greater(t, views[0].RealizedPnLCents, int64(0))
	assert.False(t, views[0].Open)
}
