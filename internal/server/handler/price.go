package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goosemarket/marketd/internal/amm"
	"github.com/goosemarket/marketd/internal/domain"
)

// PriceService defines what the price handler requires.
type PriceService interface {
	Price(ctx context.Context, marketID string) (domain.PriceQuote, error)
	Estimate(ctx context.Context, marketID string, side domain.Side, shares int64, direction domain.Direction) (amm.Quote, error)
}

// PriceHandler serves quote and estimate endpoints.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger,
	}
}

// GetPrice returns the current quote for a market.
// GET /api/markets/{id}/price
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	quote, err := h.prices.Price(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// estimateResponse reports the cost or proceeds of a hypothetical trade
// without mutating anything, plus before/after prices for slippage
// display.
type estimateResponse struct {
	MarketID    string `json:"market_id"`
	Side        string `json:"side"`
	Direction   string `json:"direction"`
	Shares      int64  `json:"shares"`
	AmountCents int64  `json:"amount_cents"`

	PriceYesBps      int64 `json:"price_yes_bps"`
	PriceNoBps       int64 `json:"price_no_bps"`
	PriceYesAfterBps int64 `json:"price_yes_after_bps"`
	PriceNoAfterBps  int64 `json:"price_no_after_bps"`
}

// Estimate quotes a hypothetical trade.
// GET /api/markets/{id}/estimate?side=yes&direction=buy&shares=10
func (h *PriceHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	q := r.URL.Query()

	side := domain.Side(q.Get("side"))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}

	direction := domain.Direction(q.Get("direction"))
	if direction == "" {
		direction = domain.DirectionBuy
	}
	if !direction.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}

	shares, err := strconv.ParseInt(q.Get("shares"), 10, 64)
	if err != nil || shares <= 0 {
		writeError(w, http.StatusBadRequest, "shares must be a positive integer")
		return
	}

	quote, err := h.prices.Estimate(r.Context(), id, side, shares, direction)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	amount := quote.CostCents
	if amount < 0 {
		amount = -amount
	}

	writeJSON(w, http.StatusOK, estimateResponse{
		MarketID:         id,
		Side:             string(side),
		Direction:        string(direction),
		Shares:           shares,
		AmountCents:      amount,
		PriceYesBps:      quote.PriceYesBps,
		PriceNoBps:       quote.PriceNoBps,
		PriceYesAfterBps: quote.PriceYesAfterBps,
		PriceNoAfterBps:  quote.PriceNoAfterBps,
	})
}
