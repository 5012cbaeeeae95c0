package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goosemarket/marketd/internal/domain"
)

const quoteTTL = time.Hour

// PriceCache implements domain.PriceCache. The latest quote per market
// is stored as JSON at key "quote:{marketID}"; it is refreshed on every
// trade, so the TTL only reaps quotes for dormant markets.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// SetQuote stores the latest quote for a market.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", q.MarketID, err)
	}
	if err := pc.rdb.Set(ctx, quoteKey(q.MarketID), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a market. It returns
// domain.ErrNotFound when no quote has been cached.
func (pc *PriceCache) GetQuote(ctx context.Context, marketID string) (domain.PriceQuote, error) {
	data, err := pc.rdb.Get(ctx, quoteKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}

	var q domain.PriceQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", marketID, err)
	}
	return q, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
