package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goosemarket/marketd/internal/domain"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

// RankedUser is one leaderboard row joined with the account's username.
type RankedUser struct {
	Rank         int64  `json:"rank"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	BalanceCents int64  `json:"balance_cents"`
}

// Leaderboard is the ranked view returned to callers: the top slice
// plus the caller's own standing when known.
type Leaderboard struct {
	Top         []RankedUser `json:"top"`
	Total       int64        `json:"total"`
	CallerRank  int64        `json:"caller_rank,omitempty"`
	CallerCents int64        `json:"caller_cents,omitempty"`
}

// LeaderboardService reads the ranking index. The index is updated
// incrementally by the trade and resolution services; this service
// only queries and, at startup, rebuilds it.
type LeaderboardService struct {
	ranking  domain.RankingIndex
	accounts domain.AccountStore
	logger   *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(ranking domain.RankingIndex, accounts domain.AccountStore, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{ranking: ranking, accounts: accounts, logger: logger}
}

// Top returns the leaderboard with up to k entries. k defaults to 10
// and is capped at 100. callerID, when non-empty, fills the caller's
// own rank and balance even when they fall outside the top slice.
func (s *LeaderboardService) Top(ctx context.Context, k int, callerID string) (Leaderboard, error) {
	if k <= 0 {
		k = defaultTopK
	}
	if k > maxTopK {
		k = maxTopK
	}

	entries, err := s.ranking.Top(ctx, k)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("leaderboard_service: top: %w", err)
	}
	total, err := s.ranking.Count(ctx)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("leaderboard_service: count: %w", err)
	}

	lb := Leaderboard{Top: make([]RankedUser, 0, len(entries)), Total: total}
	for i, e := range entries {
		row := RankedUser{
			Rank:         int64(i + 1),
			UserID:       e.UserID,
			BalanceCents: e.BalanceCents,
		}
		if acct, err := s.accounts.GetByID(ctx, e.UserID); err == nil {
			row.Username = acct.Username
		} else {
			s.logger.WarnContext(ctx, "leaderboard_service: ranked user has no account",
				slog.String("user_id", e.UserID),
			)
		}
		lb.Top = append(lb.Top, row)
	}

	if callerID != "" {
		rank, err := s.ranking.Rank(ctx, callerID)
		switch {
		case err == nil:
			lb.CallerRank = rank
			if acct, err := s.accounts.GetByID(ctx, callerID); err == nil {
				lb.CallerCents = acct.BalanceCents
			}
		case !errors.Is(err, domain.ErrNotFound):
			return Leaderboard{}, fmt.Errorf("leaderboard_service: caller rank: %w", err)
		}
	}
	return lb, nil
}

// Rank returns a single user's 1-based leaderboard position.
func (s *LeaderboardService) Rank(ctx context.Context, userID string) (int64, error) {
	rank, err := s.ranking.Rank(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("leaderboard_service: rank %s: %w", userID, err)
	}
	return rank, nil
}

// RebuildFromAccounts resyncs the whole index from the accounts table.
// Run at startup so the index survives a cold cache.
func (s *LeaderboardService) RebuildFromAccounts(ctx context.Context) error {
	accounts, err := s.accounts.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("leaderboard_service: list accounts: %w", err)
	}

	entries := make([]domain.RankingEntry, 0, len(accounts))
	for _, a := range accounts {
		entries = append(entries, domain.RankingEntry{
			UserID:       a.UserID,
			BalanceCents: a.BalanceCents,
		})
	}
	if err := s.ranking.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("leaderboard_service: rebuild: %w", err)
	}

	s.logger.InfoContext(ctx, "leaderboard_service: index rebuilt",
		slog.Int("accounts", len(entries)),
	)
	return nil
}
