package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goosemarket/marketd/internal/amm"
	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/notify"
)

// resolveLockTTL bounds how long a settlement sweep may hold the
// cross-instance resolution lock.
const resolveLockTTL = 30 * time.Second

// SettlementArchiver exports a resolved market's full trade log to
// long-term storage. Implemented by the S3 archiver; nil disables
// archiving.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, market domain.Market, trades []domain.Trade) error
}

// ResolutionService settles markets: it pays winning-side holders their
// full share value exactly once, zeroes every position, and makes the
// resolved state terminal.
type ResolutionService struct {
	ledger   domain.Ledger
	markets  domain.MarketStore
	accounts domain.AccountStore
	trades   domain.TradeStore
	ranking  domain.RankingIndex
	cache    domain.MarketCache
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	archiver SettlementArchiver
	logger   *slog.Logger
}

// NewResolutionService creates a ResolutionService. notifier and
// archiver may be nil when those integrations are disabled.
func NewResolutionService(
	ledger domain.Ledger,
	markets domain.MarketStore,
	accounts domain.AccountStore,
	trades domain.TradeStore,
	ranking domain.RankingIndex,
	cache domain.MarketCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	archiver SettlementArchiver,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		ledger:   ledger,
		markets:  markets,
		accounts: accounts,
		trades:   trades,
		ranking:  ranking,
		cache:    cache,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		archiver: archiver,
		logger:   logger,
	}
}

// Resolve settles the market with the given outcome and returns the
// payout per winning user in cents. The caller must already be
// authorized as an admin. Safe to retry: a lost race returns
// ErrConflict, a repeat returns ErrAlreadyResolved.
func (s *ResolutionService) Resolve(ctx context.Context, marketID string, outcome domain.Side) (map[string]int64, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("resolution_service: unknown outcome %q: %w", outcome, domain.ErrValidation)
	}

	unlock, err := s.locks.Acquire(ctx, "resolve:"+marketID, resolveLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("resolution_service: market %s is being resolved: %w", marketID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("resolution_service: acquire lock: %w", err)
	}
	defer unlock()

	payouts := make(map[string]int64)
	var settled domain.Market

	err = s.ledger.WithMarket(ctx, marketID, func(txn domain.MarketTxn) error {
		now := time.Now().UTC()
		m := txn.Market()

		switch m.EffectiveStatus(now) {
		case domain.MarketStatusResolved:
			return fmt.Errorf("resolution_service: market %s: %w", marketID, domain.ErrAlreadyResolved)
		case domain.MarketStatusActive:
			return fmt.Errorf("resolution_service: market %s closes at %s: %w",
				marketID, m.ClosesAt.Format(time.RFC3339), domain.ErrMarketOpen)
		case domain.MarketStatusPendingReview, domain.MarketStatusRejected:
			return fmt.Errorf("resolution_service: market %s in status %s: %w",
				marketID, m.Status, domain.ErrInvalidTransition)
		}

		// Winning side: one full share value per share, then zero the
		// position. The payout and the zeroing commit together.
		winners, err := txn.OpenPositions(outcome)
		if err != nil {
			return fmt.Errorf("resolution_service: winners: %w", err)
		}
		for _, p := range winners {
			payout := p.Quantity * amm.ShareValueCents
			if _, err := txn.AddBalance(p.UserID, payout); err != nil {
				return fmt.Errorf("resolution_service: pay %s: %w", p.UserID, err)
			}
			if err := txn.AppendTrade(domain.Trade{
				ID:             settlementTradeID(marketID, p.UserID, p.Side),
				MarketID:       marketID,
				UserID:         p.UserID,
				Side:           p.Side,
				ShareDelta:     -p.Quantity,
				CashDeltaCents: payout,
				CreatedAt:      now,
			}); err != nil {
				return fmt.Errorf("resolution_service: settlement trade: %w", err)
			}
			p.Settle(payout)
			if err := txn.PutPosition(p); err != nil {
				return fmt.Errorf("resolution_service: settle position: %w", err)
			}
			payouts[p.UserID] += payout
		}

		// Losing side: zeroed with no payout.
		losers, err := txn.OpenPositions(outcome.Opposite())
		if err != nil {
			return fmt.Errorf("resolution_service: losers: %w", err)
		}
		for _, p := range losers {
			if err := txn.AppendTrade(domain.Trade{
				ID:             settlementTradeID(marketID, p.UserID, p.Side),
				MarketID:       marketID,
				UserID:         p.UserID,
				Side:           p.Side,
				ShareDelta:     -p.Quantity,
				CashDeltaCents: 0,
				CreatedAt:      now,
			}); err != nil {
				return fmt.Errorf("resolution_service: settlement trade: %w", err)
			}
			p.Settle(0)
			if err := txn.PutPosition(p); err != nil {
				return fmt.Errorf("resolution_service: settle position: %w", err)
			}
		}

		if err := txn.SetResolved(outcome); err != nil {
			return fmt.Errorf("resolution_service: mark resolved: %w", err)
		}

		settled = m
		settled.Status = domain.MarketStatusResolved
		settled.ResolvedOutcome = &outcome
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterSettlement(ctx, settled, outcome, payouts)
	return payouts, nil
}

func settlementTradeID(marketID, userID string, side domain.Side) string {
	// Deterministic so a replayed sweep cannot double-append.
	return fmt.Sprintf("settle:%s:%s:%s", marketID, userID, side)
}

// afterSettlement refreshes the ranking index for every credited user
// and fans the settlement out to the bus, audit log, notifier and
// archiver. All best-effort: the settlement itself is already durable.
func (s *ResolutionService) afterSettlement(ctx context.Context, m domain.Market, outcome domain.Side, payouts map[string]int64) {
	var totalCents int64
	for userID, cents := range payouts {
		totalCents += cents
		acct, err := s.accounts.GetByID(ctx, userID)
		if err != nil {
			s.logger.WarnContext(ctx, "resolution_service: reload account failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.ranking.Update(ctx, userID, acct.BalanceCents); err != nil {
			s.logger.WarnContext(ctx, "resolution_service: ranking update failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.cache.Invalidate(ctx, m.ID); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":            "market_resolved",
		"market_id":        m.ID,
		"outcome":          string(outcome),
		"winners":          len(payouts),
		"total_paid_cents": totalCents,
	})
	if err := s.bus.Publish(ctx, "settlements", evt); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: publish failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "market_resolved", map[string]any{
		"market_id":        m.ID,
		"outcome":          string(outcome),
		"winners":          len(payouts),
		"total_paid_cents": totalCents,
	}); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.notifier != nil {
		msg := fmt.Sprintf("%q resolved %s: %d winners paid %d.%02d total",
			m.Title, outcome, len(payouts), totalCents/100, totalCents%100)
		if err := s.notifier.Notify(ctx, "settlement", "Market resolved", msg); err != nil {
			s.logger.WarnContext(ctx, "resolution_service: notify failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.archiver != nil {
		go s.archive(m)
	}

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("winners", len(payouts)),
		slog.Int64("total_paid_cents", totalCents),
	)
}

// archive exports the market's full trade log in the background.
func (s *ResolutionService) archive(m domain.Market) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	trades, err := s.trades.ListByMarket(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		s.logger.Error("resolution_service: load trades for archive failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.archiver.ArchiveSettlement(ctx, m, trades); err != nil {
		s.logger.Error("resolution_service: archive failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("resolution_service: settlement archived",
		slog.String("market_id", m.ID),
		slog.Int("trades", len(trades)),
	)
}
