package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/server/middleware"
	"github.com/goosemarket/marketd/internal/service"
)

// MarketService defines what the market handler requires from the
// service layer. Declared locally so the handler package depends on
// behavior, not on the concrete service wiring.
type MarketService interface {
	Create(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	Update(ctx context.Context, callerID string, admin bool, req service.UpdateMarketRequest) (domain.Market, error)
	Get(ctx context.Context, marketID string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts, tag string) ([]domain.Market, error)
	ListTags(ctx context.Context) ([]string, error)
}

// MarketHandler serves the public market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// marketView is the wire representation of a market. Status is the
// effective status at response time, so an overdue-active market shows
// as closed without waiting for the sweeper.
type marketView struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Tags            []string  `json:"tags"`
	CreatorID       string    `json:"creator_id"`
	LiquidityB      float64   `json:"liquidity_b"`
	QYes            int64     `json:"q_yes"`
	QNo             int64     `json:"q_no"`
	Status          string    `json:"status"`
	ClosesAt        time.Time `json:"closes_at"`
	ResolvedOutcome *string   `json:"resolved_outcome,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toMarketView(m domain.Market, now time.Time) marketView {
	v := marketView{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Tags:        m.Tags,
		CreatorID:   m.CreatorID,
		LiquidityB:  m.LiquidityB,
		QYes:        m.QYes,
		QNo:         m.QNo,
		Status:      string(m.EffectiveStatus(now)),
		ClosesAt:    m.ClosesAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if m.ResolvedOutcome != nil {
		outcome := string(*m.ResolvedOutcome)
		v.ResolvedOutcome = &outcome
	}
	return v
}

func toMarketViews(markets []domain.Market, now time.Time) []marketView {
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, toMarketView(m, now))
	}
	return views
}

// listMarketsResponse wraps the list endpoint output with pagination
// metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns active markets, optionally filtered by tag.
// GET /api/markets?tag=campus&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	tag := r.URL.Query().Get("tag")

	markets, err := h.markets.ListActive(r.Context(), opts, tag)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: toMarketViews(markets, time.Now()),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(market, time.Now()))
}

// ListTags returns all tags in use across markets.
// GET /api/tags
func (h *MarketHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.markets.ListTags(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	ClosesAt    time.Time `json:"closes_at"`
}

// CreateMarket submits a new market for review.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Create(r.Context(), service.CreateMarketRequest{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		CreatorID:   ident.UserID,
		ClosesAt:    req.ClosesAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMarketView(market, time.Now()))
}

// updateMarketRequest is the JSON body for market edits.
type updateMarketRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	ClosesAt    time.Time `json:"closes_at"`
}

// UpdateMarket edits a market's metadata. Only the creator or an admin
// may edit, and only while the market is pending review or active.
// PUT /api/markets/{id}
func (h *MarketHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
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

	var req updateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Update(r.Context(), ident.UserID, ident.Admin, service.UpdateMarketRequest{
		MarketID:    id,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		ClosesAt:    req.ClosesAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(market, time.Now()))
}
