package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/store/memory"
)

// harness wires every service against the in-memory backends.
type harness struct {
	store   *memory.Store
	ranking *memory.Ranking
	prices  *memory.PriceCache
	markets *memory.MarketCache
	bus     *memory.Bus
	limiter *memory.Limiter
	locker  *memory.Locker

	trade       *TradeService
	price       *PriceService
	position    *PositionService
	resolution  *ResolutionService
	market      *MarketService
	leaderboard *LeaderboardService
	account     *AccountService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		store:   memory.NewStore(),
		ranking: memory.NewRanking(),
		prices:  memory.NewPriceCache(),
		markets: memory.NewMarketCache(),
		bus:     memory.NewBus(),
		limiter: memory.NewLimiter(),
		locker:  memory.NewLocker(),
	}

	h.trade = NewTradeService(h.store, h.ranking, h.prices, h.markets, h.bus, h.store, logger)
	h.price = NewPriceService(h.store, h.markets, logger)
	h.position = NewPositionService(h.store.Positions(), h.store, h.markets, logger)
	h.resolution = NewResolutionService(
		h.store, h.store, h.store.Accounts(), h.store,
		h.ranking, h.markets, h.locker, h.bus, h.store,
		nil, nil, logger,
	)
	h.market = NewMarketService(
		h.store, h.store.Accounts(), h.limiter, h.markets, h.bus, h.store, nil,
		MarketConfig{DefaultLiquidityB: 100, CreatesPerDay: 2}, logger,
	)
	h.leaderboard = NewLeaderboardService(h.ranking, h.store.Accounts(), logger)
	h.account = NewAccountService(h.store.Accounts(), h.ranking, 100_000, logger)
	return h
}

// seedAccount creates an account with the given balance in cents.
func (h *harness) seedAccount(t *testing.T, userID string, balanceCents int64) {
	t.Helper()
	now := time.Now().UTC()
	err := h.store.Accounts().Create(context.Background(), domain.Account{
		UserID:       userID,
		Username:     userID,
		BalanceCents: balanceCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
}

// seedMarket creates a market directly in the store, bypassing review.
func (h *harness) seedMarket(t *testing.T, id string, status domain.MarketStatus, closesAt time.Time) domain.Market {
	t.Helper()
	now := time.Now().UTC()
	m := domain.Market{
		ID:          id,
		Title:       "Will the geese return before finals?",
		Description: "Resolves yes if geese are spotted on campus before the exam period starts.",
		Tags:        []string{"campus"},
		CreatorID:   "creator",
		LiquidityB:  100,
		Status:      status,
		ClosesAt:    closesAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, h.store.Create(context.Background(), m))
	return m
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	acct, err := h.store.Accounts().GetByID(context.Background(), userID)
	require.NoError(t, err)
	return acct.BalanceCents
}

func (h *harness) getMarket(t *testing.T, id string) domain.Market {
	t.Helper()
	m, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}
