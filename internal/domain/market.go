package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
//
// Transitions: pending_review -> {active, rejected}; active -> closed
// (time-triggered by ClosesAt or an admin force-close); closed -> resolved.
// Rejected and resolved are terminal.
type MarketStatus string

const (
	MarketStatusPendingReview MarketStatus = "pending_review"
	MarketStatusActive        MarketStatus = "active"
	MarketStatusRejected      MarketStatus = "rejected"
	MarketStatusClosed        MarketStatus = "closed"
	MarketStatusResolved      MarketStatus = "resolved"
)

// Side identifies one of the two outcomes of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Market is a binary-outcome prediction market priced by an LMSR
// market maker. QYes and QNo are the outstanding share counts; they are
// only ever changed by the trade executor or the resolution sweep.
type Market struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	CreatorID   string

	// LiquidityB is the LMSR liquidity parameter b (> 0). Larger values
	// make the market deeper: a given trade moves the price less.
	LiquidityB float64

	QYes int64
	QNo  int64

	Status          MarketStatus
	ClosesAt        time.Time
	ResolvedOutcome *Side

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus returns the lifecycle state as of now: an active
// market whose close time has passed counts as closed even if the
// background sweeper has not yet persisted the transition.
func (m Market) EffectiveStatus(now time.Time) MarketStatus {
	if m.Status == MarketStatusActive && !now.Before(m.ClosesAt) {
		return MarketStatusClosed
	}
	return m.Status
}

// AcceptsTrades reports whether a trade submitted at now may execute.
func (m Market) AcceptsTrades(now time.Time) bool {
	return m.EffectiveStatus(now) == MarketStatusActive
}

// Editable reports whether admin edits to title/description/tags/ClosesAt
// are still permitted.
func (m Market) Editable(now time.Time) bool {
	st := m.EffectiveStatus(now)
	return st == MarketStatusPendingReview || st == MarketStatusActive
}
