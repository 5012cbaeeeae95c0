package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func TestTradeServiceBuy(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 10_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	res, err := h.trade.Execute(context.Background(), TradeRequest{
		MarketID:  "m1",
		UserID:    "alice",
		Side:      domain.SideYes,
		Shares:    10,
		Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)

	// 10 yes shares into a fresh b=100 market cost round(5.1249*100).
	assert.Equal(t, int64(512), res.AmountCents)
	assert.Equal(t, int64(10_000-512), res.NewBalanceCents)
	assert.Equal(t, int64(10_000-512), h.balance(t, "alice"))

	m := h.getMarket(t, "m1")
	assert.Equal(t, int64(10), m.QYes)
	assert.Equal(t, int64(0), m.QNo)

	positions, err := h.store.Positions().ListByUserMarket(context.Background(), "alice", "m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
	assert.Equal(t, int64(512), positions[0].CostBasisCents)

	trades, err := h.store.ListByMarket(context.Background(), "m1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(10), trades[0].ShareDelta)
	assert.Equal(t, int64(-512), trades[0].CashDeltaCents)
}

func TestTradeServiceRoundTripIsExact(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	buy, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 25, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)

	sell, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 25, Direction: domain.DirectionSell,
	})
	require.NoError(t, err)

	assert.Equal(t, buy.AmountCents, sell.AmountCents)
	assert.Equal(t, int64(100_000), h.balance(t, "alice"))

	m := h.getMarket(t, "m1")
	assert.Equal(t, int64(0), m.QYes)

	positions, err := h.store.Positions().ListByUserMarket(ctx, "alice", "m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(0), positions[0].Quantity)
	assert.Equal(t, int64(0), positions[0].CostBasisCents)
	assert.Equal(t, int64(0), positions[0].RealizedPnLCents)
}

func TestTradeServiceInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	_, err := h.trade.Execute(context.Background(), TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 100, Direction: domain.DirectionBuy,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing committed.
	assert.Equal(t, int64(100), h.balance(t, "alice"))
	m := h.getMarket(t, "m1")
	assert.Equal(t, int64(0), m.QYes)
	trades, err := h.store.ListByMarket(context.Background(), "m1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTradeServiceInsufficientShares(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 10_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	_, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 5, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)

	_, err = h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 6, Direction: domain.DirectionSell,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)

	// Holding no shares on a side sells nothing either.
	_, err = h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideNo, Shares: 1, Direction: domain.DirectionSell,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestTradeServiceClosedMarket(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 10_000)

	// Status still says active but the close time has passed.
	h.seedMarket(t, "overdue", domain.MarketStatusActive, time.Now().Add(-time.Minute))
	h.seedMarket(t, "closed", domain.MarketStatusClosed, time.Now().Add(-time.Hour))
	h.seedMarket(t, "pending", domain.MarketStatusPendingReview, time.Now().Add(time.Hour))

	for _, id := range []string{"overdue", "closed", "pending"} {
		_, err := h.trade.Execute(context.Background(), TradeRequest{
			MarketID: id, UserID: "alice",
			Side: domain.SideYes, Shares: 1, Direction: domain.DirectionBuy,
		})
		assert.ErrorIs(t, err, domain.ErrMarketClosed, "market %s", id)
	}
}

func TestTradeServiceValidation(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 10_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	cases := []struct {
		name string
		req  TradeRequest
	}{
		{"zero shares", TradeRequest{MarketID: "m1", UserID: "alice", Side: domain.SideYes, Shares: 0, Direction: domain.DirectionBuy}},
		{"negative shares", TradeRequest{MarketID: "m1", UserID: "alice", Side: domain.SideYes, Shares: -3, Direction: domain.DirectionBuy}},
		{"bad side", TradeRequest{MarketID: "m1", UserID: "alice", Side: "maybe", Shares: 1, Direction: domain.DirectionBuy}},
		{"bad direction", TradeRequest{MarketID: "m1", UserID: "alice", Side: domain.SideYes, Shares: 1, Direction: "hold"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.trade.Execute(context.Background(), tc.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestTradeServiceAveragePriceAcrossBuys(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 1_000_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	first, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 50, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)

	// The second buy executes at higher prices, so it must cost more.
	second, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideYes, Shares: 50, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)
	assert.Greater(t, second.AmountCents, first.AmountCents)

	positions, err := h.store.Positions().ListByUserMarket(ctx, "alice", "m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Quantity)
	assert.Equal(t, first.AmountCents+second.AmountCents, positions[0].CostBasisCents)

	avg := positions[0].AvgPriceBps()
	assert.Greater(t, avg, first.Quote.PriceYesBps)
	assert.Less(t, avg, second.Quote.PriceYesAfterBps)
}

func TestTradeServiceUpdatesRankingAndPriceCache(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 10_000)
	h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	ctx := context.Background()
	res, err := h.trade.Execute(ctx, TradeRequest{
		MarketID: "m1", UserID: "alice",
		Side: domain.SideNo, Shares: 10, Direction: domain.DirectionBuy,
	})
	require.NoError(t, err)

	rank, err := h.ranking.Rank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	quote, err := h.prices.GetQuote(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, res.Quote.PriceYesAfterBps, quote.PriceYesBps)
	assert.Equal(t, int64(10), quote.QNo)
	assert.Less(t, quote.PriceYesBps, int64(5000))
}
