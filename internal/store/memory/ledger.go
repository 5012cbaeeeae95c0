package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
)

// WithMarket implements domain.Ledger. A per-market mutex serializes
// transactions; writes are buffered in the transaction and applied to
// the store only when fn returns nil, so a failed transaction leaves no
// trace.
func (s *Store) WithMarket(ctx context.Context, marketID string, fn func(domain.MarketTxn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	muAny, _ := s.marketLocks.LoadOrStore(marketID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	s.mu.RLock()
	m, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memory: ledger market %s: %w", marketID, domain.ErrNotFound)
	}

	txn := &marketTxn{
		s:         s,
		market:    cloneMarket(m),
		balances:  make(map[string]int64),
		positions: make(map[posKey]domain.Position),
	}

	if err := fn(txn); err != nil {
		return err
	}

	txn.commit()
	return nil
}

// marketTxn buffers all writes until commit. Reads see the buffered
// state first, then fall through to the store.
type marketTxn struct {
	s      *Store
	market domain.Market

	shares    *[2]int64
	balances  map[string]int64 // pending absolute balances
	positions map[posKey]domain.Position
	trades    []domain.Trade
	status    *domain.MarketStatus
	resolved  *domain.Side
}

func (t *marketTxn) Market() domain.Market { return cloneMarket(t.market) }

func (t *marketTxn) SetShares(qYes, qNo int64) error {
	if qYes < 0 || qNo < 0 {
		return fmt.Errorf("memory: negative share count: %w", domain.ErrValidation)
	}
	t.shares = &[2]int64{qYes, qNo}
	return nil
}

func (t *marketTxn) Account(userID string) (domain.Account, error) {
	t.s.mu.RLock()
	a, ok := t.s.accounts[userID]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: ledger account %s: %w", userID, domain.ErrNotFound)
	}
	if bal, pending := t.balances[userID]; pending {
		a.BalanceCents = bal
	}
	return a, nil
}

func (t *marketTxn) AddBalance(userID string, deltaCents int64) (int64, error) {
	a, err := t.Account(userID)
	if err != nil {
		return 0, err
	}
	next := a.BalanceCents + deltaCents
	if next < 0 {
		return 0, fmt.Errorf("memory: balance of %s would go negative: %w", userID, domain.ErrInsufficientFunds)
	}
	t.balances[userID] = next
	return next, nil
}

func (t *marketTxn) Position(userID string, side domain.Side) (domain.Position, error) {
	k := posKey{userID: userID, marketID: t.market.ID, side: side}
	if p, pending := t.positions[k]; pending {
		return p, nil
	}
	t.s.mu.RLock()
	p, ok := t.s.positions[k]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Position{
			UserID:   userID,
			MarketID: t.market.ID,
			Side:     side,
		}, nil
	}
	return p, nil
}

func (t *marketTxn) PutPosition(p domain.Position) error {
	if p.Quantity < 0 {
		return fmt.Errorf("memory: negative position quantity: %w", domain.ErrValidation)
	}
	p.UpdatedAt = time.Now().UTC()
	t.positions[posKey{userID: p.UserID, marketID: p.MarketID, side: p.Side}] = p
	return nil
}

func (t *marketTxn) AppendTrade(tr domain.Trade) error {
	t.trades = append(t.trades, tr)
	return nil
}

func (t *marketTxn) OpenPositions(side domain.Side) ([]domain.Position, error) {
	seen := make(map[posKey]domain.Position)
	t.s.mu.RLock()
	for k, p := range t.s.positions {
		if k.marketID == t.market.ID && k.side == side {
			seen[k] = p
		}
	}
	t.s.mu.RUnlock()
	for k, p := range t.positions {
		if k.marketID == t.market.ID && k.side == side {
			seen[k] = p
		}
	}

	var out []domain.Position
	for _, p := range seen {
		if p.Quantity > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *marketTxn) SetStatus(status domain.MarketStatus) error {
	t.status = &status
	return nil
}

func (t *marketTxn) SetResolved(outcome domain.Side) error {
	resolved := domain.MarketStatusResolved
	t.status = &resolved
	t.resolved = &outcome
	return nil
}

// commit applies all buffered writes under the store lock.
func (t *marketTxn) commit() {
	now := time.Now().UTC()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	m := t.s.markets[t.market.ID]
	if t.shares != nil {
		m.QYes, m.QNo = t.shares[0], t.shares[1]
	}
	if t.status != nil {
		m.Status = *t.status
	}
	if t.resolved != nil {
		o := *t.resolved
		m.ResolvedOutcome = &o
	}
	m.UpdatedAt = now
	t.s.markets[t.market.ID] = m

	for userID, bal := range t.balances {
		a := t.s.accounts[userID]
		a.BalanceCents = bal
		a.UpdatedAt = now
		t.s.accounts[userID] = a
	}
	for k, p := range t.positions {
		t.s.positions[k] = p
	}
	t.s.trades = append(t.s.trades, t.trades...)
}

var _ domain.Ledger = (*Store)(nil)
