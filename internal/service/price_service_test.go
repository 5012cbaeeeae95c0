package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func TestPriceServiceFreshMarketAtEvenOdds(t *testing.T) {
	h := newHarness(t)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	q, err := h.price.Price(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "m1", q.MarketID)
	assert.Equal(t, int64(0), q.QYes)
	assert.Equal(t, int64(0), q.QNo)
	assert.Equal(t, int64(5000), q.PriceYesBps)
	assert.Equal(t, int64(5000), q.PriceNoBps)
}

func TestPriceServiceEstimateMatchesExecution(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	est, err := h.price.Estimate(ctx, "m1", domain.SideYes, 10, domain.DirectionBuy)
	require.NoError(t, err)

	// b=100: buying 10 yes from (0,0) costs 512 cents and moves the yes
	// price from 5000 to about 5250 bps.
	assert.Equal(t, int64(512), est.CostCents)
	assert.Equal(t, int64(5000), est.PriceYesBps)
	assert.Equal(t, int64(5250), est.PriceYesAfterBps)
	assert.Equal(t, int64(10), est.QYesAfter)

	res, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 10, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, est.CostCents, res.AmountCents)
	assert.Equal(t, est.PriceYesAfterBps, res.Quote.PriceYesAfterBps)
}

func TestPriceServiceEstimateSellMirrorsBuy(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	cost := tradeUp(t, h, "m1", "alice", domain.SideYes, 10)

	est, err := h.price.Estimate(ctx, "m1", domain.SideYes, 10, domain.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, cost, est.CostCents)
	assert.Equal(t, int64(0), est.QYesAfter)
	assert.Equal(t, int64(5000), est.PriceYesAfterBps)
}

func TestPriceServiceSeesCommittedTrades(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()

	// Warm the market cache with a pre-trade read.
	q, err := h.price.Price(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, int64(0), q.QYes)

	tradeUp(t, h, "m1", "alice", domain.SideYes, 10)

	q, err = h.price.Price(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), q.QYes)
	assert.Equal(t, int64(5250), q.PriceYesBps)

	est, err := h.price.Estimate(ctx, "m1", domain.SideYes, 10, domain.DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, int64(5250), est.PriceYesBps)
	assert.Equal(t, int64(20), est.QYesAfter)
}

func TestPriceServiceResolvedMarketPegs(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Minute))

	ctx := context.Background()
	tradeUp(t, h, "m1", "alice", domain.SideYes, 5)
	require.NoError(t, h.store.ForceClose(ctx, "m1", time.Now().UTC()))
	_, err := h.resolution.Resolve(ctx, "m1", domain.SideYes)
	require.NoError(t, err)

	q, err := h.price.Price(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), q.PriceYesBps)
	assert.Equal(t, int64(0), q.PriceNoBps)

	_, err = h.price.Estimate(ctx, "m1", domain.SideYes, 1, domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestPriceServiceUnknownMarket(t *testing.T) {
	h := newHarness(t)

	_, err := h.price.Price(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
