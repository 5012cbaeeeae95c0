package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goosemarket/marketd/internal/amm"
	"github.com/goosemarket/marketd/internal/domain"
)

// PriceService answers price and estimate queries. Both are pure reads:
// they never mutate market state and can be called speculatively.
type PriceService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewPriceService creates a PriceService.
func NewPriceService(markets domain.MarketStore, cache domain.MarketCache, logger *slog.Logger) *PriceService {
	return &PriceService{markets: markets, cache: cache, logger: logger}
}

// getMarket reads through the market cache, falling back to the store.
func (s *PriceService) getMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "price_service: market cache read failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("price_service: get market %s: %w", id, err)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "price_service: market cache write failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// Price returns the current quote for a market. A resolved market pegs
// at the full share value on the winning side and zero on the loser.
func (s *PriceService) Price(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	m, err := s.getMarket(ctx, marketID)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	q := domain.PriceQuote{
		MarketID: m.ID,
		QYes:     m.QYes,
		QNo:      m.QNo,
		At:       time.Now().UTC(),
	}

	if m.Status == domain.MarketStatusResolved && m.ResolvedOutcome != nil {
		if *m.ResolvedOutcome == domain.SideYes {
			q.PriceYesBps, q.PriceNoBps = amm.PriceScaleBps, 0
		} else {
			q.PriceYesBps, q.PriceNoBps = 0, amm.PriceScaleBps
		}
		return q, nil
	}

	q.PriceYesBps, q.PriceNoBps = amm.Prices(m.QYes, m.QNo, m.LiquidityB)
	return q, nil
}

// Estimate quotes a prospective trade without mutating anything.
// Estimates stay available after a market closes; only execution is
// gated on the lifecycle.
func (s *PriceService) Estimate(ctx context.Context, marketID string, side domain.Side, shares int64, direction domain.Direction) (amm.Quote, error) {
	m, err := s.getMarket(ctx, marketID)
	if err != nil {
		return amm.Quote{}, err
	}
	if m.Status == domain.MarketStatusResolved {
		return amm.Quote{}, fmt.Errorf("price_service: market %s: %w", marketID, domain.ErrAlreadyResolved)
	}

	quote, err := amm.Estimate(m.QYes, m.QNo, m.LiquidityB, side, shares, direction)
	if err != nil {
		return amm.Quote{}, err
	}
	return quote, nil
}
