package domain

import "time"

// Account holds a user's virtual-currency balance in minor units.
// Identity verification happens upstream; by the time an Account is
// touched the user_id is already authenticated.
type Account struct {
	UserID       string
	Username     string
	Admin        bool
	BalanceCents int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RankingEntry is one leaderboard row. Entries are totally ordered by
// (balance desc, user_id asc) so ties are deterministic.
type RankingEntry struct {
	UserID       string
	BalanceCents int64
}
