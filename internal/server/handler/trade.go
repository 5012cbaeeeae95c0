package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/server/middleware"
	"github.com/goosemarket/marketd/internal/service"
)

// TradeService defines what the trade handler requires.
type TradeService interface {
	Execute(ctx context.Context, req service.TradeRequest) (service.TradeResult, error)
}

// TradeHandler serves the trade execution endpoint.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// tradeRequest is the JSON body for trade execution.
type tradeRequest struct {
	Side      string `json:"side"`
	Direction string `json:"direction"`
	Shares    int64  `json:"shares"`
}

// tradeResponse reports the executed trade. There are no partial
// fills; the full requested quantity executed at amount_cents.
type tradeResponse struct {
	TradeID         string `json:"trade_id"`
	MarketID        string `json:"market_id"`
	Side            string `json:"side"`
	Direction       string `json:"direction"`
	Shares          int64  `json:"shares"`
	AmountCents     int64  `json:"amount_cents"`
	NewBalanceCents int64  `json:"new_balance_cents"`

	PriceYesBps int64 `json:"price_yes_bps"`
	PriceNoBps  int64 `json:"price_no_bps"`
}

// ExecuteTrade buys or sells outcome shares on a market.
// POST /api/markets/{id}/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	direction := req.Direction
	if direction == "" {
		direction = string(domain.DirectionBuy)
	}

	result, err := h.trades.Execute(r.Context(), service.TradeRequest{
		MarketID:  id,
		UserID:    ident.UserID,
		Side:      domain.Side(req.Side),
		Shares:    req.Shares,
		Direction: domain.Direction(direction),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{
		TradeID:         result.TradeID,
		MarketID:        id,
		Side:            req.Side,
		Direction:       direction,
		Shares:          req.Shares,
		AmountCents:     result.AmountCents,
		NewBalanceCents: result.NewBalanceCents,
		PriceYesBps:     result.Quote.PriceYesAfterBps,
		PriceNoBps:      result.Quote.PriceNoAfterBps,
	})
}
