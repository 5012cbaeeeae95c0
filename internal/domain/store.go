package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries. A zero Limit means no
// limit.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market metadata and lifecycle state. Share
// quantities and resolution are mutated only through the Ledger.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)

	// UpdateDetails rewrites title, description, tags and ClosesAt. It
	// fails with ErrInvalidTransition if the market is no longer
	// editable (closed, resolved or rejected).
	UpdateDetails(ctx context.Context, m Market) error

	// TransitionStatus moves a market from one lifecycle state to
	// another. It fails with ErrInvalidTransition when the stored state
	// is not `from`, which doubles as the optimistic-concurrency guard
	// for admin actions.
	TransitionStatus(ctx context.Context, id string, from, to MarketStatus) error

	// CloseDue marks every active market whose ClosesAt has passed as
	// closed and returns the affected IDs.
	CloseDue(ctx context.Context, now time.Time) ([]string, error)

	// ForceClose closes an active market immediately, clamping ClosesAt
	// to now so it can never be extended past a reached value. Fails
	// with ErrInvalidTransition if the market is not active.
	ForceClose(ctx context.Context, id string, now time.Time) error

	ListActive(ctx context.Context, opts ListOpts, tag string) ([]Market, error)
	ListPendingReview(ctx context.Context) ([]Market, error)

	// ListUnresolved returns closed-but-not-resolved markets, the admin
	// work queue for resolution.
	ListUnresolved(ctx context.Context, now time.Time) ([]Market, error)

	ListTags(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// AccountStore persists user accounts. Balances are mutated only
// through the Ledger so they stay atomic with positions and trades.
type AccountStore interface {
	Create(ctx context.Context, account Account) error
	GetByID(ctx context.Context, userID string) (Account, error)
	List(ctx context.Context, opts ListOpts) ([]Account, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore reads the append-only trade log. Appends happen only
// inside a Ledger transaction.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
}

// PositionStore reads cached positions. Writes happen only inside a
// Ledger transaction.
type PositionStore interface {
	ListByUser(ctx context.Context, userID string) ([]Position, error)
	ListByUserMarket(ctx context.Context, userID, marketID string) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
