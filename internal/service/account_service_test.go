package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosemarket/marketd/internal/domain"
)

func TestAccountServiceEnsure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acct, err := h.account.Ensure(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), acct.BalanceCents)

	// New accounts are indexed immediately.
	rank, err := h.ranking.Rank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	// Ensure is idempotent: no second grant.
	again, err := h.account.Ensure(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, acct.BalanceCents, again.BalanceCents)
	assert.Equal(t, acct.CreatedAt, again.CreatedAt)

	_, err = h.account.Ensure(ctx, "", "nobody")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAccountServiceGet(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "alice", 5_000)

	acct, err := h.account.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), acct.BalanceCents)

	_, err = h.account.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
