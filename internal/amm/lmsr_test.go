package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func TestPricesFreshMarket(t *testing.T) {
	yes, no := Prices(0, 0, 100)
	assert.Equal(t, int64(5000), yes)
	assert.Equal(t, int64(5000), no)
}

func TestPricesSumToScale(t *testing.T) {
	cases := []struct {
		qYes, qNo int64
		b         float64
	}{
		{0, 0, 5},
		{10, 0, 100},
		{0, 10, 100},
		{137, 29, 50},
		{1000, 999, 10},
		{5, 800, 250},
	}
	for _, tc := range cases {
		p := priceYes(float64(tc.qYes), float64(tc.qNo), tc.b)
		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 1.0)

		sum := p + (1 - p)
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestPricesStableForLargeQuantities(t *testing.T) {
	// Naive exp(q/b) overflows around q/b > 709; the stabilized form
	// must not.
	p := priceYes(1e6, 0, 100)
	assert.False(t, p != p, "price must not be NaN")
	assert.Greater(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)

	c := cost(1e6, 999999, 100)
	assert.False(t, c != c, "cost must not be NaN")
	assert.Greater(t, c, 0.0)
}

func TestEstimateWorkedExample(t *testing.T) {
	// b = 100, fresh market: C(0,0) = 100*ln 2 ~= 69.31,
	// C(10,0) ~= 74.44, so 10 YES shares cost ~5.125 units = 512 cents
	// and push price_yes to ~0.525.
	q, err := Estimate(0, 0, 100, domain.SideYes, 10, domain.DirectionBuy)
	require.NoError(t, err)

	assert.Equal(t, int64(512), q.CostCents)
	assert.Equal(t, int64(5000), q.PriceYesBps)
	assert.Equal(t, int64(5250), q.PriceYesAfterBps)
	assert.Equal(t, int64(4750), q.PriceNoAfterBps)
	assert.Equal(t, int64(10), q.QYesAfter)
	assert.Equal(t, int64(0), q.QNoAfter)
}

func TestEstimateRoundTripIsExact(t *testing.T) {
	for _, shares := range []int64{1, 7, 10, 250} {
		buy, err := Estimate(40, 55, 75, domain.SideNo, shares, domain.DirectionBuy)
		require.NoError(t, err)

		sell, err := Estimate(buy.QYesAfter, buy.QNoAfter, 75, domain.SideNo, shares, domain.DirectionSell)
		require.NoError(t, err)

		assert.Equal(t, buy.CostCents, sell.CostCents, "shares=%d", shares)
		assert.Equal(t, int64(40), sell.QYesAfter)
		assert.Equal(t, int64(55), sell.QNoAfter)
	}
}

func TestEstimateBuyMonotonicity(t *testing.T) {
	var prevCost int64 = -1
	var prevPrice int64 = -1
	for _, shares := range []int64{1, 5, 10, 50, 100} {
		q, err := Estimate(20, 30, 100, domain.SideYes, shares, domain.DirectionBuy)
		require.NoError(t, err)

		assert.Greater(t, q.CostCents, prevCost, "total cost grows with size")
		assert.Greater(t, q.PriceYesAfterBps, prevPrice, "price rises with size")
		prevCost = q.CostCents
		prevPrice = q.PriceYesAfterBps
	}

	// Buying raises the bought side's marginal price; selling lowers it.
	buy, err := Estimate(20, 30, 100, domain.SideYes, 10, domain.DirectionBuy)
	require.NoError(t, err)
	assert.Greater(t, buy.PriceYesAfterBps, buy.PriceYesBps)

	sell, err := Estimate(20, 30, 100, domain.SideYes, 10, domain.DirectionSell)
	require.NoError(t, err)
	assert.Less(t, sell.PriceYesAfterBps, sell.PriceYesBps)
}

func TestEstimateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		qYes, qNo int64
		b         float64
		side      domain.Side
		shares    int64
		direction domain.Direction
	}{
		{"zero shares", 0, 0, 100, domain.SideYes, 0, domain.DirectionBuy},
		{"negative shares", 0, 0, 100, domain.SideYes, -5, domain.DirectionBuy},
		{"zero b", 0, 0, 0, domain.SideYes, 1, domain.DirectionBuy},
		{"negative b", 0, 0, -10, domain.SideYes, 1, domain.DirectionBuy},
		{"unknown side", 0, 0, 100, domain.Side("maybe"), 1, domain.DirectionBuy},
		{"unknown direction", 0, 0, 100, domain.SideYes, 1, domain.Direction("hold")},
		{"sell below zero", 3, 0, 100, domain.SideYes, 4, domain.DirectionSell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Estimate(tc.qYes, tc.qNo, tc.b, tc.side, tc.shares, tc.direction)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSidePriceBps(t *testing.T) {
	yes := SidePriceBps(10, 0, 100, domain.SideYes)
	no := SidePriceBps(10, 0, 100, domain.SideNo)
	assert.Equal(t, int64(PriceScaleBps), yes+no)
	assert.Greater(t, yes, no)
}
