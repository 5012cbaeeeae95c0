package domain

import "time"

// Direction distinguishes buys from sells.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known trade direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Trade is an immutable, append-only record of one executed trade. The
// trade log is the source of truth; positions are a materialized view
// over it.
type Trade struct {
	ID       string
	MarketID string
	UserID   string
	Side     Side

	// ShareDelta is signed: positive for buys, negative for sells.
	ShareDelta int64

	// CashDeltaCents is the signed balance change on the user's account
	// in minor units: negative for buys (cost), positive for sells
	// (proceeds) and settlement payouts.
	CashDeltaCents int64

	CreatedAt time.Time
}

// Direction derives the trade direction from the signed share delta.
func (t Trade) Direction() Direction {
	if t.ShareDelta < 0 {
		return DirectionSell
	}
	return DirectionBuy
}
