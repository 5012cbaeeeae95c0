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

// PositionView is one row of a user's portfolio: the cached position
// joined with a live price. Prices are basis points, money is cents.
type PositionView struct {
	MarketID         string      `json:"market_id"`
	MarketTitle      string      `json:"market_title"`
	Side             domain.Side `json:"side"`
	Quantity         int64       `json:"quantity"`
	AvgPriceBps      int64       `json:"avg_price_bps"`
	CurrentPriceBps  int64       `json:"current_price_bps"`
	CurrentPnLCents  int64       `json:"current_pnl_cents"`
	RealizedPnLCents int64       `json:"realized_pnl_cents"`
	PctChange        float64     `json:"pct_change"`
	Open             bool        `json:"open"`
}

// PositionService builds portfolio views from the cached positions,
// which the ledger maintains incrementally with every trade; nothing
// here replays trade history.
type PositionService struct {
	positions domain.PositionStore
	markets   domain.MarketStore
	cache     domain.MarketCache
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(
	positions domain.PositionStore,
	markets domain.MarketStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		markets:   markets,
		cache:     cache,
		logger:    logger,
	}
}

// ListForUser returns the user's positions, optionally restricted to
// one market and/or filtered by "open"/"closed" status. Zero-quantity
// positions appear only when they carry realized PnL (a fully closed
// or settled holding).
func (s *PositionService) ListForUser(ctx context.Context, userID, marketID, status string) ([]PositionView, error) {
	if status != "" && status != "open" && status != "closed" {
		return nil, fmt.Errorf("position_service: status %q: %w", status, domain.ErrValidation)
	}

	var (
		positions []domain.Position
		err       error
	)
	if marketID != "" {
		positions, err = s.positions.ListByUserMarket(ctx, userID, marketID)
	} else {
		positions, err = s.positions.ListByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("position_service: list positions for %s: %w", userID, err)
	}

	now := time.Now().UTC()
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		if p.Quantity == 0 && p.RealizedPnLCents == 0 {
			continue
		}

		m, err := s.getMarket(ctx, p.MarketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.WarnContext(ctx, "position_service: position references unknown market",
					slog.String("market_id", p.MarketID),
					slog.String("user_id", userID),
				)
				continue
			}
			return nil, err
		}

		v := buildView(p, m, now)
		if status == "open" && !v.Open {
			continue
		}
		if status == "closed" && v.Open {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *PositionService) getMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("position_service: get market %s: %w", id, err)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "position_service: market cache write failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// buildView computes the derived fields for one position.
func buildView(p domain.Position, m domain.Market, now time.Time) PositionView {
	v := PositionView{
		MarketID:         p.MarketID,
		MarketTitle:      m.Title,
		Side:             p.Side,
		Quantity:         p.Quantity,
		AvgPriceBps:      p.AvgPriceBps(),
		RealizedPnLCents: p.RealizedPnLCents,
	}

	st := m.EffectiveStatus(now)
	if st == domain.MarketStatusResolved && m.ResolvedOutcome != nil {
		if *m.ResolvedOutcome == p.Side {
			v.CurrentPriceBps = amm.PriceScaleBps
		} else {
			v.CurrentPriceBps = 0
		}
	} else {
		v.CurrentPriceBps = amm.SidePriceBps(m.QYes, m.QNo, m.LiquidityB, p.Side)
	}

	// Value the holding at the marginal price; PnL is value minus cost
	// basis plus whatever has already been realized.
	const bpsPerCent = amm.PriceScaleBps / amm.ShareValueCents
	valueCents := (p.Quantity*v.CurrentPriceBps + bpsPerCent/2) / bpsPerCent
	v.CurrentPnLCents = valueCents - p.CostBasisCents + p.RealizedPnLCents

	if v.AvgPriceBps > 0 && p.Quantity > 0 {
		v.PctChange = float64(v.CurrentPriceBps-v.AvgPriceBps) / float64(v.AvgPriceBps)
	}

	v.Open = p.Quantity > 0 && st != domain.MarketStatusResolved
	return v
}
