package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
)

// AccountService provisions accounts on first sight and answers
// account lookups. Every user starts with the same grant of virtual
// currency.
type AccountService struct {
	accounts      domain.AccountStore
	ranking       domain.RankingIndex
	startingCents int64
	logger        *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(accounts domain.AccountStore, ranking domain.RankingIndex, startingCents int64, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts:      accounts,
		ranking:       ranking,
		startingCents: startingCents,
		logger:        logger,
	}
}

// Ensure returns the account for userID, creating it with the starting
// balance if it does not exist yet. Safe under concurrent first
// requests: a lost creation race falls back to the winner's row.
func (s *AccountService) Ensure(ctx context.Context, userID, username string) (domain.Account, error) {
	if userID == "" {
		return domain.Account{}, fmt.Errorf("account_service: empty user id: %w", domain.ErrValidation)
	}

	acct, err := s.accounts.GetByID(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("account_service: get %s: %w", userID, err)
	}

	now := time.Now().UTC()
	acct = domain.Account{
		UserID:       userID,
		Username:     username,
		BalanceCents: s.startingCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.accounts.GetByID(ctx, userID)
		}
		return domain.Account{}, fmt.Errorf("account_service: create %s: %w", userID, err)
	}

	if err := s.ranking.Update(ctx, userID, acct.BalanceCents); err != nil {
		s.logger.WarnContext(ctx, "account_service: ranking update failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account_service: account created",
		slog.String("user_id", userID),
		slog.Int64("starting_cents", s.startingCents),
	)
	return acct, nil
}

// Get returns an existing account.
func (s *AccountService) Get(ctx context.Context, userID string) (domain.Account, error) {
	acct, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: get %s: %w", userID, err)
	}
	return acct, nil
}
