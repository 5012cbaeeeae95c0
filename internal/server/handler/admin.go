package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/server/middleware"
)

// AdminMarketService defines the review and lifecycle operations the
// admin handler requires.
type AdminMarketService interface {
	Approve(ctx context.Context, marketID string) error
	Reject(ctx context.Context, marketID string) error
	ForceClose(ctx context.Context, marketID string) error
	ListPendingReview(ctx context.Context) ([]domain.Market, error)
	ListUnresolved(ctx context.Context) ([]domain.Market, error)
}

// ResolutionService defines the settlement operation the admin handler
// requires.
type ResolutionService interface {
	Resolve(ctx context.Context, marketID string, outcome domain.Side) (map[string]int64, error)
}

// ArchiveReader fetches archived settlement records. Nil when object
// storage is not configured.
type ArchiveReader interface {
	GetSettlement(ctx context.Context, marketID string) (io.ReadCloser, error)
}

// AdminHandler serves the operator endpoints: market review, forced
// closure, resolution, the audit log, and archived settlements.
type AdminHandler struct {
	markets    AdminMarketService
	resolution ResolutionService
	audit      domain.AuditStore
	archives   ArchiveReader
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archives may be nil.
func NewAdminHandler(
	markets AdminMarketService,
	resolution ResolutionService,
	audit domain.AuditStore,
	archives ArchiveReader,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		markets:    markets,
		resolution: resolution,
		audit:      audit,
		archives:   archives,
		logger:     logger,
	}
}

// requireAdmin rejects callers without an admin identity. Returns false
// when the response has already been written.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity required")
		return false
	}
	if !ident.Admin {
		writeError(w, http.StatusForbidden, "admin access required")
		return false
	}
	return true
}

// ListPending returns markets awaiting review.
// GET /api/admin/markets/pending
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	markets, err := h.markets.ListPendingReview(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": toMarketViews(markets, time.Now())})
}

// ListUnresolved returns closed markets awaiting resolution, including
// overdue-active ones the sweeper has not yet persisted.
// GET /api/admin/markets/unresolved
func (h *AdminHandler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	markets, err := h.markets.ListUnresolved(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": toMarketViews(markets, time.Now())})
}

// Approve activates a pending-review market.
// POST /api/admin/markets/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.markets.Approve, "active")
}

// Reject declines a pending-review market.
// POST /api/admin/markets/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.markets.Reject, "rejected")
}

// ForceClose closes an active market immediately.
// POST /api/admin/markets/{id}/close
func (h *AdminHandler) ForceClose(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.markets.ForceClose, "closed")
}

func (h *AdminHandler) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error, status string) {
	if !requireAdmin(w, r) {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if err := action(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

// resolveRequest is the JSON body for market resolution.
type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve settles a closed market to the given outcome and returns the
// per-user payouts.
// POST /api/admin/markets/{id}/resolve
func (h *AdminHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payouts, err := h.resolution.Resolve(r.Context(), id, domain.Side(req.Outcome))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if payouts == nil {
		payouts = map[string]int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            id,
		"outcome":       req.Outcome,
		"payouts_cents": payouts,
	})
}

// ListAudit returns recent audit log entries.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetArchive streams the archived settlement record for a resolved
// market.
// GET /api/admin/markets/{id}/archive
func (h *AdminHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement archive not configured")
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	body, err := h.archives.GetSettlement(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
