package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func seedRanked(t *testing.T, h *harness, userID string, balanceCents int64) {
	t.Helper()
	h.seedAccount(t, userID, balanceCents)
	require.NoError(t, h.ranking.Update(context.Background(), userID, balanceCents))
}

func TestLeaderboardOrderingAndTies(t *testing.T) {
	h := newHarness(t)
	seedRanked(t, h, "a", 500)
	seedRanked(t, h, "c", 300)
	seedRanked(t, h, "b", 300)
	seedRanked(t, h, "d", 100)

	ctx := context.Background()
	lb, err := h.leaderboard.Top(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, lb.Top, 4)
	assert.Equal(t, int64(4), lb.Total)

	// Ties break on user id ascending, so ranks are stable.
	ids := []string{lb.Top[0].UserID, lb.Top[1].UserID, lb.Top[2].UserID, lb.Top[3].UserID}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)

	for want, userID := range map[int64]string{1: "a", 2: "b", 3: "c", 4: "d"} {
		rank, err := h.leaderboard.Rank(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, want, rank, "rank of %s", userID)
	}
}

func TestLeaderboardCallerOutsideTop(t *testing.T) {
	h := newHarness(t)
	seedRanked(t, h, "a", 400)
	seedRanked(t, h, "b", 300)
	seedRanked(t, h, "c", 200)
	seedRanked(t, h, "d", 100)

	lb, err := h.leaderboard.Top(context.Background(), 2, "d")
	require.NoError(t, err)
	require.Len(t, lb.Top, 2)
	assert.Equal(t, int64(4), lb.Total)
	assert.Equal(t, int64(4), lb.CallerRank)
	assert.Equal(t, int64(100), lb.CallerCents)
	assert.Equal(t, "a", lb.Top[0].Username)
}

func TestLeaderboardUnknownCaller(t *testing.T) {
	h := newHarness(t)
	seedRanked(t, h, "a", 400)

	lb, err := h.leaderboard.Top(context.Background(), 10, "ghost")
	require.NoError(t, err)
	assert.Zero(t, lb.CallerRank)

	_, err = h.leaderboard.Rank(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeaderboardRebuildFromAccounts(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "a", 900)
	h.seedAccount(t, "b", 700)

	// Index starts cold; rebuild syncs it from the accounts table.
	require.NoError(t, h.leaderboard.RebuildFromAccounts(context.Background()))

	lb, err := h.leaderboard.Top(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, lb.Top, 2)
	assert.Equal(t, "a", lb.Top[0].UserID)
	assert.Equal(t, int64(900), lb.Top[0].BalanceCents)
}

func TestLeaderboardTopClampsK(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		seedRanked(t, h, string(rune('a'+i)), int64(100*(i+1)))
	}

	lb, err := h.leaderboard.Top(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Len(t, lb.Top, 3)

	lb, err = h.leaderboard.Top(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Len(t, lb.Top, 1)
	assert.Equal(t, "c", lb.Top[0].UserID)
}
