package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/notify"
)

const (
	titleMinLen = 3
	titleMaxLen = 200
	descMinLen  = 10
	descMaxLen  = 1000
	maxTags     = 5
	tagMaxLen   = 30
)

// MarketConfig carries the tunables for market creation.
type MarketConfig struct {
	// DefaultLiquidityB is the LMSR b parameter assigned to new markets.
	DefaultLiquidityB float64

	// CreatesPerDay caps how many markets one user may submit per day.
	CreatesPerDay int
}

// CreateMarketRequest is a user's market submission. New markets start
// in pending_review and trade only after an admin approves them.
type CreateMarketRequest struct {
	Title       string
	Description string
	Tags        []string
	CreatorID   string
	ClosesAt    time.Time
}

// UpdateMarketRequest edits a market's metadata. Only the creator (or
// an admin) may edit, and only while the market is still editable.
type UpdateMarketRequest struct {
	MarketID    string
	Title       string
	Description string
	Tags        []string
	ClosesAt    time.Time
}

// MarketService owns the market lifecycle outside of trading and
// settlement: creation, review, edits, and the close sweep.
type MarketService struct {
	markets  domain.MarketStore
	accounts domain.AccountStore
	limiter  domain.RateLimiter
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	cfg      MarketConfig
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. notifier may be nil.
func NewMarketService(
	markets domain.MarketStore,
	accounts domain.AccountStore,
	limiter domain.RateLimiter,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	cfg MarketConfig,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:  markets,
		accounts: accounts,
		limiter:  limiter,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

func validateDetails(title, description string, tags []string, closesAt, now time.Time) ([]string, error) {
	title = strings.TrimSpace(title)
	if n := len(title); n < titleMinLen || n > titleMaxLen {
		return nil, fmt.Errorf("market_service: title length %d outside [%d,%d]: %w",
			n, titleMinLen, titleMaxLen, domain.ErrValidation)
	}
	description = strings.TrimSpace(description)
	if n := len(description); n < descMinLen || n > descMaxLen {
		return nil, fmt.Errorf("market_service: description length %d outside [%d,%d]: %w",
			n, descMinLen, descMaxLen, domain.ErrValidation)
	}
	if !closesAt.After(now) {
		return nil, fmt.Errorf("market_service: closes_at must be in the future: %w", domain.ErrValidation)
	}
	if len(tags) > maxTags {
		return nil, fmt.Errorf("market_service: at most %d tags: %w", maxTags, domain.ErrValidation)
	}

	clean := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if len(t) > tagMaxLen {
			return nil, fmt.Errorf("market_service: tag %q too long: %w", t, domain.ErrValidation)
		}
		seen[t] = true
		clean = append(clean, t)
	}
	return clean, nil
}

// Create validates and stores a new market in pending_review. Creation
// is rate limited per user.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	now := time.Now().UTC()

	tags, err := validateDetails(req.Title, req.Description, req.Tags, req.ClosesAt, now)
	if err != nil {
		return domain.Market{}, err
	}

	if _, err := s.accounts.GetByID(ctx, req.CreatorID); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: creator %s: %w", req.CreatorID, err)
	}

	ok, err := s.limiter.Allow(ctx, "market_create:"+req.CreatorID, s.cfg.CreatesPerDay, 24*time.Hour)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: rate limit check: %w", err)
	}
	if !ok {
		return domain.Market{}, fmt.Errorf("market_service: at most %d markets per day: %w",
			s.cfg.CreatesPerDay, domain.ErrRateLimited)
	}

	m := domain.Market{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Tags:        tags,
		CreatorID:   req.CreatorID,
		LiquidityB:  s.cfg.DefaultLiquidityB,
		Status:      domain.MarketStatusPendingReview,
		ClosesAt:    req.ClosesAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.auditAndLog(ctx, "market_created", m.ID, map[string]any{
		"market_id":  m.ID,
		"creator_id": m.CreatorID,
		"title":      m.Title,
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("%q by %s, closes %s", m.Title, m.CreatorID, m.ClosesAt.Format(time.RFC3339))
		if err := s.notifier.Notify(ctx, "review", "Market awaiting review", msg); err != nil {
			s.logger.WarnContext(ctx, "market_service: review notify failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// Update edits a market's metadata. callerID must be the creator or an
// admin; the market must still be editable (pending_review or active
// before close).
func (s *MarketService) Update(ctx context.Context, callerID string, admin bool, req UpdateMarketRequest) (domain.Market, error) {
	now := time.Now().UTC()

	m, err := s.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", req.MarketID, err)
	}
	if m.CreatorID != callerID && !admin {
		return domain.Market{}, fmt.Errorf("market_service: not the creator: %w", domain.ErrUnauthorized)
	}
	if !m.Editable(now) {
		return domain.Market{}, fmt.Errorf("market_service: market %s in status %s: %w",
			m.ID, m.EffectiveStatus(now), domain.ErrInvalidTransition)
	}

	tags, err := validateDetails(req.Title, req.Description, req.Tags, req.ClosesAt, now)
	if err != nil {
		return domain.Market{}, err
	}

	m.Title = strings.TrimSpace(req.Title)
	m.Description = strings.TrimSpace(req.Description)
	m.Tags = tags
	m.ClosesAt = req.ClosesAt.UTC()
	m.UpdatedAt = now

	if err := s.markets.UpdateDetails(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update %s: %w", m.ID, err)
	}
	if err := s.cache.Invalidate(ctx, m.ID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	s.auditAndLog(ctx, "market_updated", m.ID, map[string]any{
		"market_id": m.ID,
		"caller_id": callerID,
	})
	return m, nil
}

// Approve moves a pending_review market to active.
func (s *MarketService) Approve(ctx context.Context, marketID string) error {
	err := s.markets.TransitionStatus(ctx, marketID,
		domain.MarketStatusPendingReview, domain.MarketStatusActive)
	if err != nil {
		return fmt.Errorf("market_service: approve %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)
	s.publishLifecycle(ctx, marketID, "market_approved")
	s.auditAndLog(ctx, "market_approved", marketID, map[string]any{"market_id": marketID})
	return nil
}

// Reject moves a pending_review market to rejected, a terminal state.
func (s *MarketService) Reject(ctx context.Context, marketID string) error {
	err := s.markets.TransitionStatus(ctx, marketID,
		domain.MarketStatusPendingReview, domain.MarketStatusRejected)
	if err != nil {
		return fmt.Errorf("market_service: reject %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)
	s.auditAndLog(ctx, "market_rejected", marketID, map[string]any{"market_id": marketID})
	return nil
}

// ForceClose closes an active market immediately, ahead of its
// scheduled ClosesAt.
func (s *MarketService) ForceClose(ctx context.Context, marketID string) error {
	now := time.Now().UTC()
	if err := s.markets.ForceClose(ctx, marketID, now); err != nil {
		return fmt.Errorf("market_service: force close %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)
	s.publishLifecycle(ctx, marketID, "market_closed")
	s.auditAndLog(ctx, "market_force_closed", marketID, map[string]any{"market_id": marketID})
	return nil
}

// CloseDueSweep flips every active market whose close time has passed
// to closed. Trading is gated on EffectiveStatus, so the sweep only
// persists a state the system already enforces.
func (s *MarketService) CloseDueSweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := s.markets.CloseDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("market_service: close sweep: %w", err)
	}
	for _, id := range ids {
		s.invalidate(ctx, id)
		s.publishLifecycle(ctx, id, "market_closed")
	}
	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "market_service: closed due markets",
			slog.Int("count", len(ids)),
		)
	}
	return len(ids), nil
}

// Get returns one market by ID.
func (s *MarketService) Get(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", marketID, err)
	}
	return m, nil
}

// ListActive returns tradable markets, optionally filtered by tag.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts, tag string) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts, tag)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}

// ListPendingReview returns the admin review queue.
func (s *MarketService) ListPendingReview(ctx context.Context) ([]domain.Market, error) {
	markets, err := s.markets.ListPendingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list pending: %w", err)
	}
	return markets, nil
}

// ListUnresolved returns closed markets awaiting resolution.
func (s *MarketService) ListUnresolved(ctx context.Context) ([]domain.Market, error) {
	markets, err := s.markets.ListUnresolved(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("market_service: list unresolved: %w", err)
	}
	return markets, nil
}

// ListTags returns every tag in use across non-terminal markets.
func (s *MarketService) ListTags(ctx context.Context) ([]string, error) {
	tags, err := s.markets.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list tags: %w", err)
	}
	return tags, nil
}

func (s *MarketService) invalidate(ctx context.Context, marketID string) {
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publishLifecycle(ctx context.Context, marketID, event string) {
	payload, _ := json.Marshal(map[string]any{
		"event":     event,
		"market_id": marketID,
	})
	if err := s.bus.Publish(ctx, "markets", payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("market_id", marketID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditAndLog(ctx context.Context, event, marketID string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "market_service: "+event,
		slog.String("market_id", marketID),
	)
}
