package domain

import "time"

// Position is the cached per-user, per-market, per-side aggregate of
// the trade log. Quantity can never go negative: selling more shares
// than held is rejected, not treated as a short.
type Position struct {
	UserID   string
	MarketID string
	Side     Side

	// Quantity is the number of shares currently held.
	Quantity int64

	// CostBasisCents is the total amount paid (minor units) for the
	// currently held shares. The per-share cost basis is
	// CostBasisCents / Quantity.
	CostBasisCents int64

	// RealizedPnLCents accumulates profit and loss locked in by sells
	// and by settlement.
	RealizedPnLCents int64

	UpdatedAt time.Time
}

// AvgPriceBps returns the volume-weighted average price paid per share
// in basis points of the 1-unit share payoff (0-10000). Returns 0 for
// an empty position.
func (p Position) AvgPriceBps() int64 {
	if p.Quantity <= 0 {
		return 0
	}
	// cents-per-share * 100 = bps; keep integer math and round.
	return (p.CostBasisCents*100 + p.Quantity/2) / p.Quantity
}

// ApplyBuy folds a buy of shares costing costCents into the position.
func (p *Position) ApplyBuy(shares, costCents int64) {
	p.Quantity += shares
	p.CostBasisCents += costCents
}

// ApplySell removes shares from the position at proceedsCents total,
// realizing PnL against the average cost basis. The per-share basis of
// the remainder is unchanged.
func (p *Position) ApplySell(shares, proceedsCents int64) {
	if p.Quantity <= 0 || shares <= 0 {
		return
	}
	basisOut := (p.CostBasisCents*shares + p.Quantity/2) / p.Quantity
	p.Quantity -= shares
	p.CostBasisCents -= basisOut
	p.RealizedPnLCents += proceedsCents - basisOut
	if p.Quantity == 0 {
		// Avoid carrying rounding residue on an empty position.
		p.CostBasisCents = 0
	}
}

// Settle zeroes the position at resolution, paying payoutCents (0 for
// the losing side) and realizing the difference against the basis.
func (p *Position) Settle(payoutCents int64) {
	p.RealizedPnLCents += payoutCents - p.CostBasisCents
	p.Quantity = 0
	p.CostBasisCents = 0
}
