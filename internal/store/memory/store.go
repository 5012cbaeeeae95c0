// Package memory implements the domain store, ledger and coordination
// interfaces with in-process data structures. It backs the service
// tests and lets the engine run without Postgres/Redis in development;
// production deployments wire the postgres and redis packages instead.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
)

type posKey struct {
	userID   string
	marketID string
	side     domain.Side
}

// Store holds all engine state in memory. It implements
// domain.MarketStore, domain.AccountStore, domain.TradeStore,
// domain.PositionStore, domain.AuditStore and domain.Ledger.
type Store struct {
	mu        sync.RWMutex
	markets   map[string]domain.Market
	accounts  map[string]domain.Account
	positions map[posKey]domain.Position
	trades    []domain.Trade
	audits    []domain.AuditEntry
	nextAudit int64

	// marketLocks serializes ledger transactions per market.
	marketLocks sync.Map // marketID -> *sync.Mutex
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		markets:   make(map[string]domain.Market),
		accounts:  make(map[string]domain.Account),
		positions: make(map[posKey]domain.Position),
	}
}

func cloneMarket(m domain.Market) domain.Market {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	if m.ResolvedOutcome != nil {
		o := *m.ResolvedOutcome
		out.ResolvedOutcome = &o
	}
	return out
}

// ── MarketStore ──

func (s *Store) Create(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *Store) UpdateDetails(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("memory: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	if cur.Status != domain.MarketStatusPendingReview && cur.Status != domain.MarketStatusActive {
		return fmt.Errorf("memory: update market %s in status %s: %w", m.ID, cur.Status, domain.ErrInvalidTransition)
	}
	cur.Title = m.Title
	cur.Description = m.Description
	cur.Tags = append([]string(nil), m.Tags...)
	cur.ClosesAt = m.ClosesAt
	cur.UpdatedAt = time.Now().UTC()
	s.markets[m.ID] = cur
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: transition market %s: %w", id, domain.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("memory: transition market %s from %s (is %s): %w", id, from, cur.Status, domain.ErrInvalidTransition)
	}
	cur.Status = to
	cur.UpdatedAt = time.Now().UTC()
	s.markets[id] = cur
	return nil
}

func (s *Store) CloseDue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []string
	for id, m := range s.markets {
		if m.Status == domain.MarketStatusActive && !now.Before(m.ClosesAt) {
			m.Status = domain.MarketStatusClosed
			m.UpdatedAt = now
			s.markets[id] = m
			closed = append(closed, id)
		}
	}
	sort.Strings(closed)
	return closed, nil
}

func (s *Store) ForceClose(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: force close market %s: %w", id, domain.ErrNotFound)
	}
	if cur.Status != domain.MarketStatusActive {
		return fmt.Errorf("memory: force close market %s in status %s: %w", id, cur.Status, domain.ErrInvalidTransition)
	}
	cur.Status = domain.MarketStatusClosed
	if cur.ClosesAt.After(now) {
		cur.ClosesAt = now
	}
	cur.UpdatedAt = now
	s.markets[id] = cur
	return nil
}

func (s *Store) ListActive(ctx context.Context, opts domain.ListOpts, tag string) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status != domain.MarketStatusActive {
			continue
		}
		if tag != "" && !hasTag(m.Tags, tag) {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) ListPendingReview(ctx context.Context) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusPendingReview {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListUnresolved(ctx context.Context, now time.Time) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.EffectiveStatus(now) == domain.MarketStatusClosed {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	return out, nil
}

func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, m := range s.markets {
		for _, t := range m.Tags {
			seen[t] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// ── AccountStore ──

func (s *Store) CreateAccount(ctx context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.UserID]; ok {
		return fmt.Errorf("memory: create account %s: %w", a.UserID, domain.ErrAlreadyExists)
	}
	s.accounts[a.UserID] = a
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: get account %s: %w", userID, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, opts domain.ListOpts) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return paginate(out, opts), nil
}

func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts)), nil
}

// ── TradeStore ──

func (s *Store) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return paginate(out, opts), nil
}

// ── PositionStore ──

func (s *Store) ListPositionsByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.ListPositionsByUserMarket(ctx, userID, "")
}

func (s *Store) ListPositionsByUserMarket(ctx context.Context, userID, marketID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.userID != userID {
			continue
		}
		if marketID != "" && k.marketID != marketID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

// ── AuditStore ──

func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAudit++
	s.audits = append(s.audits, domain.AuditEntry{
		ID:        s.nextAudit,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.AuditEntry(nil), s.audits...)
	return paginate(out, opts), nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Interface checks. Accounts, trades and positions are exposed through
// adapter views since their method sets overlap on the same struct.
var (
	_ domain.MarketStore = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
	_ domain.TradeStore  = (*Store)(nil)
)

// Accounts returns the store viewed as a domain.AccountStore.
func (s *Store) Accounts() domain.AccountStore { return accountView{s} }

// Positions returns the store viewed as a domain.PositionStore.
func (s *Store) Positions() domain.PositionStore { return positionView{s} }

type accountView struct{ s *Store }

func (v accountView) Create(ctx context.Context, a domain.Account) error {
	return v.s.CreateAccount(ctx, a)
}
func (v accountView) GetByID(ctx context.Context, userID string) (domain.Account, error) {
	return v.s.GetAccount(ctx, userID)
}
func (v accountView) List(ctx context.Context, opts domain.ListOpts) ([]domain.Account, error) {
	return v.s.ListAccounts(ctx, opts)
}
func (v accountView) Count(ctx context.Context) (int64, error) {
	return v.s.CountAccounts(ctx)
}

type positionView struct{ s *Store }

func (v positionView) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return v.s.ListPositionsByUser(ctx, userID)
}
func (v positionView) ListByUserMarket(ctx context.Context, userID, marketID string) ([]domain.Position, error) {
	return v.s.ListPositionsByUserMarket(ctx, userID, marketID)
}
