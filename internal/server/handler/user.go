package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/server/middleware"
)

// UserService defines what the user handler requires.
type UserService interface {
	Get(ctx context.Context, userID string) (domain.Account, error)
}

// UserHandler serves the caller's own account info.
type UserHandler struct {
	accounts UserService
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(accounts UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// userView is the wire representation of the caller's account.
type userView struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Admin        bool      `json:"admin"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
}

// Me returns the caller's balance, admin flag, and display name. The
// identity middleware has already provisioned the account.
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	account, err := h.accounts.Get(r.Context(), ident.UserID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, userView{
		UserID:       account.UserID,
		Username:     account.Username,
		Admin:        ident.Admin,
		BalanceCents: account.BalanceCents,
		CreatedAt:    account.CreatedAt,
	})
}
