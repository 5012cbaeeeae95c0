package domain

import (
	"context"
	"time"
)

// PriceQuote is the cached market price snapshot published after every
// trade. Prices are basis points (0-10000) of the 1-unit share payoff.
type PriceQuote struct {
	MarketID    string    `json:"market_id"`
	QYes        int64     `json:"q_yes"`
	QNo         int64     `json:"q_no"`
	PriceYesBps int64     `json:"price_yes_bps"`
	PriceNoBps  int64     `json:"price_no_bps"`
	At          time.Time `json:"at"`
}

// PriceCache provides fast access to the latest quote per market.
type PriceCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, marketID string) (PriceQuote, error)
}

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RankingIndex maintains the leaderboard order (balance desc, user_id
// asc) with O(log N) incremental updates per balance change.
type RankingIndex interface {
	// Update records a user's new balance.
	Update(ctx context.Context, userID string, balanceCents int64) error

	// Top returns the first k entries in leaderboard order.
	Top(ctx context.Context, k int) ([]RankingEntry, error)

	// Rank returns the 1-based position of the user, or ErrNotFound if
	// the user is not indexed.
	Rank(ctx context.Context, userID string) (int64, error)

	Count(ctx context.Context) (int64, error)

	// Rebuild replaces the whole index, used at startup to resync from
	// the accounts table.
	Rebuild(ctx context.Context, entries []RankingEntry) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for engine
// events (trades, lifecycle changes, settlements).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
