package domain

import "context"

// MarketTxn is a single-market unit of work. All reads observe one
// consistent snapshot and all writes commit atomically or not at all.
// Implementations serialize transactions per market: at most one
// MarketTxn is in flight for a given market at any time, so a trade can
// never interleave with a resolution sweep on the same market.
type MarketTxn interface {
	// Market returns the market row as locked at transaction start.
	Market() Market

	// SetShares replaces the outstanding share counts.
	SetShares(qYes, qNo int64) error

	// Account returns the user's account within the transaction.
	Account(userID string) (Account, error)

	// AddBalance applies a signed delta to the user's balance and
	// returns the new balance. The committed balance is never negative;
	// callers check funds first and the storage constraint backstops.
	AddBalance(userID string, deltaCents int64) (int64, error)

	// Position returns the user's position on one side, zero-valued if
	// none exists yet.
	Position(userID string, side Side) (Position, error)

	// PutPosition upserts a position row.
	PutPosition(p Position) error

	// AppendTrade appends an immutable trade record.
	AppendTrade(t Trade) error

	// OpenPositions returns every position on the given side with
	// quantity > 0, used by the settlement sweep.
	OpenPositions(side Side) ([]Position, error)

	// SetStatus persists a lifecycle transition for the locked market.
	SetStatus(status MarketStatus) error

	// SetResolved marks the market resolved with the winning outcome.
	SetResolved(outcome Side) error
}

// Ledger runs per-market transactions. It is the only write path for
// share quantities, balances, trades and positions, which keeps the
// all-or-nothing commit guarantee in one place.
type Ledger interface {
	// WithMarket locks the market and invokes fn with a transaction.
	// If fn returns an error the transaction is rolled back and the
	// error returned unchanged. ErrNotFound if the market is unknown;
	// ErrConflict when serialization fails and the caller should retry.
	WithMarket(ctx context.Context, marketID string, fn func(MarketTxn) error) error
}
