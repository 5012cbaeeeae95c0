package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func validCreateReq(creator string) CreateMarketRequest {
	return CreateMarketRequest{
		Title:       "Will the dining hall run out of coffee this week?",
		Description: "Resolves yes if the main dining hall posts an out-of-coffee notice.",
		Tags:        []string{"Campus", "food", "campus"},
		CreatorID:   creator,
		ClosesAt:    time.Now().Add(48 * time.Hour),
	}
}

func TestMarketServiceCreate(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)

	m, err := h.market.Create(context.Background(), validCreateReq("alice"))
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.MarketStatusPendingReview, m.Status)
	assert.Equal(t, float64(100), m.LiquidityB)
	// Tags are lowercased and de-duplicated.
	assert.Equal(t, []string{"campus", "food"}, m.Tags)

	stored := h.getMarket(t, m.ID)
	assert.Equal(t, m.Title, stored.Title)
	assert.Equal(t, int64(0), stored.QYes)
	assert.Equal(t, int64(0), stored.QNo)
}

func TestMarketServiceCreateValidation(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)

	cases := []struct {
		name   string
		mutate func(*CreateMarketRequest)
	}{
		{"short title", func(r *CreateMarketRequest) { r.Title = "ab" }},
		{"long title", func(r *CreateMarketRequest) { r.Title = strings.Repeat("x", 201) }},
		{"short description", func(r *CreateMarketRequest) { r.Description = "too short" }},
		{"past close", func(r *CreateMarketRequest) { r.ClosesAt = time.Now().Add(-time.Hour) }},
		{"too many tags", func(r *CreateMarketRequest) { r.Tags = []string{"a", "b", "c", "d", "e", "f"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateReq("alice")
			tc.mutate(&req)
			_, err := h.market.Create(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("unknown creator", func(t *testing.T) {
		_, err := h.market.Create(context.Background(), validCreateReq("nobody"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarketServiceCreateRateLimit(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)
	h.seedAccount(t, "bob", 100_000)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := h.market.Create(ctx, validCreateReq("alice"))
		require.NoError(t, err)
	}
	_, err := h.market.Create(ctx, validCreateReq("alice"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// The limit is per user.
	_, err = h.market.Create(ctx, validCreateReq("bob"))
	assert.NoError(t, err)
}

func TestMarketServiceReviewFlow(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 100_000)

	ctx := context.Background()
	m, err := h.market.Create(ctx, validCreateReq("alice"))
	require.NoError(t, err)

	pending, err := h.market.ListPendingReview(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, h.market.Approve(ctx, m.ID))
	assert.Equal(t, domain.MarketStatusActive, h.getMarket(t, m.ID).Status)

	// Approving twice, or rejecting an active market, is invalid.
	assert.ErrorIs(t, h.market.Approve(ctx, m.ID), domain.ErrInvalidTransition)
	assert.ErrorIs(t, h.market.Reject(ctx, m.ID), domain.ErrInvalidTransition)

	rejected, err := h.market.Create(ctx, validCreateReq("alice"))
	require.NoError(t, err)
	require.NoError(t, h.market.Reject(ctx, rejected.ID))
	assert.Equal(t, domain.MarketStatusRejected, h.getMarket(t, rejected.ID).Status)
}

func TestMarketServiceUpdate(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "creator", 100_000)
	m := h.seedMarket(t, "m1", domain.MarketStatusActive, time.Now().Add(time.Hour))

	req := UpdateMarketRequest{
		MarketID:    m.ID,
		Title:       "Will the geese return before reading week?",
		Description: "Resolves yes if geese are spotted on campus before reading week.",
		Tags:        []string{"campus", "wildlife"},
		ClosesAt:    time.Now().Add(2 * time.Hour),
	}

	_, err := h.market.Update(context.Background(), "mallory", false, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	updated, err := h.market.Update(context.Background(), "creator", false, req)
	require.NoError(t, err)
	assert.Equal(t, req.Title, updated.Title)

	// Admins can edit markets they did not create.
	_, err = h.market.Update(context.Background(), "admin", true, req)
	assert.NoError(t, err)

	// Closed markets are no longer editable.
	require.NoError(t, h.market.ForceClose(context.Background(), m.ID))
	_, err = h.market.Update(context.Background(), "creator", false, req)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMarketServiceForceCloseClampsClosesAt(t *testing.T) {
	h := newHarness(t)
	scheduled := time.Now().Add(24 * time.Hour)
	h.seedMarket(t, "m1", domain.MarketStatusActive, scheduled)

	require.NoError(t, h.market.ForceClose(context.Background(), "m1"))

	m := h.getMarket(t, "m1")
	assert.Equal(t, domain.MarketStatusClosed, m.Status)
	assert.True(t, m.ClosesAt.Before(scheduled))

	// Only active markets can be force-closed.
	err := h.market.ForceClose(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMarketServiceCloseDueSweep(t *testing.T) {
	h := newHarness(t)
	h.seedMarket(t, "due", domain.MarketStatusActive, time.Now().Add(-time.Minute))
	h.seedMarket(t, "later", domain.MarketStatusActive, time.Now().Add(time.Hour))

	n, err := h.market.CloseDueSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.MarketStatusClosed, h.getMarket(t, "due").Status)
	assert.Equal(t, domain.MarketStatusActive, h.getMarket(t, "later").Status)

	// Idempotent.
	n, err = h.market.CloseDueSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMarketServiceListings(t *testing.T) {
	h := newHarness(t)
	h.seedMarket(t, "a", domain.MarketStatusActive, time.Now().Add(time.Hour))
	h.seedMarket(t, "b", domain.MarketStatusActive, time.Now().Add(time.Hour))
	h.seedMarket(t, "c", domain.MarketStatusClosed, time.Now().Add(-time.Hour))

	ctx := context.Background()
	active, err := h.market.ListActive(ctx, domain.ListOpts{}, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	tagged, err := h.market.ListActive(ctx, domain.ListOpts{}, "campus")
	require.NoError(t, err)
	assert.Len(t, tagged, 2)
	none, err := h.market.ListActive(ctx, domain.ListOpts{}, "sports")
	require.NoError(t, err)
	assert.Empty(t, none)

	unresolved, err := h.market.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "c", unresolved[0].ID)

	tags, err := h.market.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"campus"}, tags)
}
