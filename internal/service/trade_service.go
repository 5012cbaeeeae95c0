package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goosemarket/marketd/internal/amm"
	"github.com/goosemarket/marketd/internal/domain"
)

// TradeRequest is a fully authenticated trade intent. Identity is
// resolved upstream; by the time a request reaches the executor the
// user_id is trusted.
type TradeRequest struct {
	MarketID  string
	UserID    string
	Side      domain.Side
	Shares    int64
	Direction domain.Direction
}

// TradeResult reports an executed trade. AmountCents is what the buyer
// paid or the seller received (always non-negative); there are no
// partial fills, the full requested quantity executed at this amount.
type TradeResult struct {
	TradeID         string
	AmountCents     int64
	NewBalanceCents int64
	Quote           amm.Quote
}

// TradeService is the trade executor: it validates a request and
// applies it atomically against a single consistent market snapshot.
type TradeService struct {
	ledger  domain.Ledger
	ranking domain.RankingIndex
	prices  domain.PriceCache
	markets domain.MarketCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	ledger domain.Ledger,
	ranking domain.RankingIndex,
	prices domain.PriceCache,
	markets domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		ledger:  ledger,
		ranking: ranking,
		prices:  prices,
		markets: markets,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Execute runs the full check-and-apply cycle for one trade. All
// preconditions are evaluated against the ledger transaction's
// snapshot, and either every effect commits (share counts, balance,
// trade record, position) or none does.
func (s *TradeService) Execute(ctx context.Context, req TradeRequest) (TradeResult, error) {
	if req.Shares <= 0 {
		return TradeResult{}, fmt.Errorf("trade_service: shares must be positive: %w", domain.ErrValidation)
	}
	if !req.Side.Valid() {
		return TradeResult{}, fmt.Errorf("trade_service: unknown side %q: %w", req.Side, domain.ErrValidation)
	}
	if !req.Direction.Valid() {
		return TradeResult{}, fmt.Errorf("trade_service: unknown direction %q: %w", req.Direction, domain.ErrValidation)
	}

	var res TradeResult
	err := s.ledger.WithMarket(ctx, req.MarketID, func(txn domain.MarketTxn) error {
		now := time.Now().UTC()
		m := txn.Market()

		if !m.AcceptsTrades(now) {
			return fmt.Errorf("trade_service: market %s: %w", m.ID, domain.ErrMarketClosed)
		}

		acct, err := txn.Account(req.UserID)
		if err != nil {
			return fmt.Errorf("trade_service: account %s: %w", req.UserID, err)
		}
		pos, err := txn.Position(req.UserID, req.Side)
		if err != nil {
			return fmt.Errorf("trade_service: position: %w", err)
		}

		// The share check comes before pricing: a sell that exceeds the
		// holding is InsufficientShares, whatever it would do to the curve.
		if req.Direction == domain.DirectionSell && pos.Quantity < req.Shares {
			return fmt.Errorf("trade_service: selling %d, hold %d: %w",
				req.Shares, pos.Quantity, domain.ErrInsufficientShares)
		}

		quote, err := amm.Estimate(m.QYes, m.QNo, m.LiquidityB, req.Side, req.Shares, req.Direction)
		if err != nil {
			return err
		}

		var cashDelta, shareDelta int64
		switch req.Direction {
		case domain.DirectionBuy:
			if acct.BalanceCents < quote.CostCents {
				return fmt.Errorf("trade_service: need %d cents, have %d: %w",
					quote.CostCents, acct.BalanceCents, domain.ErrInsufficientFunds)
			}
			cashDelta = -quote.CostCents
			shareDelta = req.Shares
			pos.ApplyBuy(req.Shares, quote.CostCents)
		case domain.DirectionSell:
			cashDelta = quote.CostCents
			shareDelta = -req.Shares
			pos.ApplySell(req.Shares, quote.CostCents)
		}

		newBalance, err := txn.AddBalance(req.UserID, cashDelta)
		if err != nil {
			return fmt.Errorf("trade_service: balance update: %w", err)
		}
		if err := txn.SetShares(quote.QYesAfter, quote.QNoAfter); err != nil {
			return fmt.Errorf("trade_service: shares update: %w", err)
		}

		trade := domain.Trade{
			ID:             uuid.New().String(),
			MarketID:       req.MarketID,
			UserID:         req.UserID,
			Side:           req.Side,
			ShareDelta:     shareDelta,
			CashDeltaCents: cashDelta,
			CreatedAt:      now,
		}
		if err := txn.AppendTrade(trade); err != nil {
			return fmt.Errorf("trade_service: append trade: %w", err)
		}
		if err := txn.PutPosition(pos); err != nil {
			return fmt.Errorf("trade_service: put position: %w", err)
		}

		res = TradeResult{
			TradeID:         trade.ID,
			AmountCents:     quote.CostCents,
			NewBalanceCents: newBalance,
			Quote:           quote,
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}

	s.afterCommit(ctx, req, res)
	return res, nil
}

// afterCommit fans the committed trade out to the ranking index, the
// price cache, the signal bus and the audit log. Failures here are
// logged, not returned: the trade itself is already durable.
func (s *TradeService) afterCommit(ctx context.Context, req TradeRequest, res TradeResult) {
	if err := s.ranking.Update(ctx, req.UserID, res.NewBalanceCents); err != nil {
		s.logger.WarnContext(ctx, "trade_service: ranking update failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
	}

	quote := domain.PriceQuote{
		MarketID:    req.MarketID,
		QYes:        res.Quote.QYesAfter,
		QNo:         res.Quote.QNoAfter,
		PriceYesBps: res.Quote.PriceYesAfterBps,
		PriceNoBps:  res.Quote.PriceNoAfterBps,
		At:          time.Now().UTC(),
	}
	if err := s.prices.SetQuote(ctx, quote); err != nil {
		s.logger.WarnContext(ctx, "trade_service: price cache update failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
	}

	// The cached market snapshot still carries the pre-trade share
	// counts; drop it so price and position reads refetch.
	if err := s.markets.Invalidate(ctx, req.MarketID); err != nil {
		s.logger.WarnContext(ctx, "trade_service: market cache invalidate failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":         "trade_executed",
		"trade_id":      res.TradeID,
		"market_id":     req.MarketID,
		"side":          string(req.Side),
		"direction":     string(req.Direction),
		"shares":        req.Shares,
		"amount_cents":  res.AmountCents,
		"price_yes_bps": res.Quote.PriceYesAfterBps,
		"price_no_bps":  res.Quote.PriceNoAfterBps,
	})
	if err := s.bus.Publish(ctx, "trades", evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("trade_id", res.TradeID),
			slog.String("error", err.Error()),
		)
	}
	priceEvt, _ := json.Marshal(quote)
	if err := s.bus.Publish(ctx, "prices", priceEvt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish price failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "trade_executed", map[string]any{
		"trade_id":     res.TradeID,
		"market_id":    req.MarketID,
		"user_id":      req.UserID,
		"side":         string(req.Side),
		"direction":    string(req.Direction),
		"shares":       req.Shares,
		"amount_cents": res.AmountCents,
	}); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("trade_id", res.TradeID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("trade_id", res.TradeID),
		slog.String("market_id", req.MarketID),
		slog.String("user_id", req.UserID),
		slog.String("direction", string(req.Direction)),
		slog.Int64("shares", req.Shares),
		slog.Int64("amount_cents", res.AmountCents),
	)
}
