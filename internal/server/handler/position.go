package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goosemarket/marketd/internal/server/middleware"
	"github.com/goosemarket/marketd/internal/service"
)

// PositionService defines what the position handler requires.
type PositionService interface {
	ListForUser(ctx context.Context, userID, marketID, status string) ([]service.PositionView, error)
}

// PositionHandler serves the caller's position views.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// ListPositions returns the caller's positions with cost basis and
// mark-to-market PnL, optionally filtered by market or open/closed
// status.
// GET /api/positions?market_id=...&status=open
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	q := r.URL.Query()
	views, err := h.positions.ListForUser(r.Context(), ident.UserID, q.Get("market_id"), q.Get("status"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if views == nil {
		views = []service.PositionView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}
