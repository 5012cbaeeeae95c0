package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/goosemarket/marketd/internal/domain"
)

// PriceCache is an in-process domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.PriceQuote
}

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]domain.PriceQuote)}
}

func (c *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.MarketID] = q
	return nil
}

func (c *PriceCache) GetQuote(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[marketID]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("memory: quote for %s: %w", marketID, domain.ErrNotFound)
	}
	return q, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)

// MarketCache is an in-process domain.MarketCache.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewMarketCache creates an empty market cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[string]domain.Market)}
}

func (c *MarketCache) Set(ctx context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = cloneMarket(m)
	return nil
}

func (c *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: cached market %s: %w", id, domain.ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (c *MarketCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
