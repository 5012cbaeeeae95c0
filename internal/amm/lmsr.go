// Package amm implements the LMSR (log market scoring rule) automated
// market maker for binary markets. Everything here is pure: callers
// pass the share state and get prices and costs back, so quotes can be
// recomputed speculatively without touching market state.
//
// Prices cross package boundaries as basis points (0-10000) of the
// 1-unit share payoff and money as int64 minor units; floats exist only
// inside the cost curve itself.
package amm

import (
	"fmt"
	"math"

	"github.com/goosemarket/marketd/internal/domain"
)

// ShareValueCents is the payout of one winning share in minor units.
const ShareValueCents = 100

// PriceScaleBps is the canonical fixed-point price scale: 10000 basis
// points equal the full 1-unit share payoff.
const PriceScaleBps = 10000

// cost evaluates the LMSR cost function
//
//	C(q_yes, q_no) = b * ln(e^{q_yes/b} + e^{q_no/b})
//
// with the running max subtracted before exponentiating so large share
// counts cannot overflow.
func cost(qYes, qNo, b float64) float64 {
	x, y := qYes/b, qNo/b
	m := math.Max(x, y)
	return b * (m + math.Log(math.Exp(x-m)+math.Exp(y-m)))
}

// priceYes returns the marginal YES price as a fraction in (0, 1).
func priceYes(qYes, qNo, b float64) float64 {
	x, y := qYes/b, qNo/b
	m := math.Max(x, y)
	ey, en := math.Exp(x-m), math.Exp(y-m)
	return ey / (ey + en)
}

// toBps converts a fractional price to basis points.
func toBps(p float64) int64 {
	return int64(math.Round(p * PriceScaleBps))
}

// roundCents converts a cost expressed in share-payoff units to minor
// units, rounding half away from zero. Buys and sells share this
// rounding, so an immediate round trip over the same curve is exact.
func roundCents(c float64) int64 {
	return int64(math.Round(c * ShareValueCents))
}

// Prices returns the current marginal prices in basis points. A fresh
// market (0, 0) prices at exactly 5000/5000.
func Prices(qYes, qNo int64, b float64) (yesBps, noBps int64) {
	p := priceYes(float64(qYes), float64(qNo), b)
	return toBps(p), toBps(1 - p)
}

// Quote describes the outcome of a prospective trade against a given
// share state. CostCents is always non-negative: what the buyer pays,
// or what the seller receives.
type Quote struct {
	CostCents int64

	PriceYesBps int64
	PriceNoBps  int64

	PriceYesAfterBps int64
	PriceNoAfterBps  int64

	QYesAfter int64
	QNoAfter  int64
}

// Estimate prices a trade of shares on side in the given direction from
// state (qYes, qNo) without mutating anything. It returns
// domain.ErrValidation for non-positive b or shares, or when a sell
// would drive the outstanding share count negative.
func Estimate(qYes, qNo int64, b float64, side domain.Side, shares int64, direction domain.Direction) (Quote, error) {
	if b <= 0 {
		return Quote{}, fmt.Errorf("amm: liquidity parameter %v: %w", b, domain.ErrValidation)
	}
	if shares <= 0 {
		return Quote{}, fmt.Errorf("amm: shares must be positive: %w", domain.ErrValidation)
	}
	if !side.Valid() {
		return Quote{}, fmt.Errorf("amm: unknown side %q: %w", side, domain.ErrValidation)
	}
	if !direction.Valid() {
		return Quote{}, fmt.Errorf("amm: unknown direction %q: %w", direction, domain.ErrValidation)
	}

	delta := shares
	if direction == domain.DirectionSell {
		delta = -shares
	}

	qYesAfter, qNoAfter := qYes, qNo
	if side == domain.SideYes {
		qYesAfter += delta
	} else {
		qNoAfter += delta
	}
	if qYesAfter < 0 || qNoAfter < 0 {
		return Quote{}, fmt.Errorf("amm: sell exceeds outstanding shares: %w", domain.ErrValidation)
	}

	before := cost(float64(qYes), float64(qNo), b)
	after := cost(float64(qYesAfter), float64(qNoAfter), b)

	// Buys pay C(q')-C(q); sells receive C(q)-C(q'). Both non-negative
	// on a convex cost curve.
	diff := after - before
	if direction == domain.DirectionSell {
		diff = -diff
	}
	costCents := roundCents(diff)
	if costCents < 0 {
		costCents = 0
	}

	yesBefore, noBefore := Prices(qYes, qNo, b)
	yesAfter, noAfter := Prices(qYesAfter, qNoAfter, b)

	return Quote{
		CostCents:        costCents,
		PriceYesBps:      yesBefore,
		PriceNoBps:       noBefore,
		PriceYesAfterBps: yesAfter,
		PriceNoAfterBps:  noAfter,
		QYesAfter:        qYesAfter,
		QNoAfter:         qNoAfter,
	}, nil
}

// SidePriceBps returns the marginal price of one side in basis points.
func SidePriceBps(qYes, qNo int64, b float64, side domain.Side) int64 {
	yes, no := Prices(qYes, qNo, b)
	if side == domain.SideYes {
		return yes
	}
	return no
}
