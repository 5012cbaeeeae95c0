package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goosemarket/marketd/internal/server/middleware"
	"github.com/goosemarket/marketd/internal/service"
)

// LeaderboardService defines what the leaderboard handler requires.
type LeaderboardService interface {
	Top(ctx context.Context, k int, callerID string) (service.Leaderboard, error)
}

// LeaderboardHandler serves the ranked balance view.
type LeaderboardHandler struct {
	leaderboard LeaderboardService
	logger      *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(leaderboard LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		leaderboard: leaderboard,
		logger:      logger,
	}
}

// GetLeaderboard returns the top-k users plus the caller's own
// standing when the request carries an identity.
// GET /api/leaderboard?limit=10
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	k := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			k = n
		}
	}

	callerID := ""
	if ident, ok := middleware.IdentityFrom(r.Context()); ok {
		callerID = ident.UserID
	}

	board, err := h.leaderboard.Top(r.Context(), k, callerID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if board.Top == nil {
		board.Top = []service.RankedUser{}
	}
	writeJSON(w, http.StatusOK, board)
}
