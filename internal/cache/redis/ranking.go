package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/goosemarket/marketd/internal/domain"
)

const rankingKey = "ranking"

// Ranking implements domain.RankingIndex on a Redis sorted set keyed by
// user ID with the balance in cents as score. ZSET ordering breaks
// score ties by member ascending, which is the opposite of what a
// score-descending read gives us, so the tie cohort is re-sorted on the
// client to keep the (balance desc, user_id asc) order deterministic.
type Ranking struct {
	rdb *redis.Client
}

// NewRanking creates a Ranking backed by the given Client.
func NewRanking(c *Client) *Ranking {
	return &Ranking{rdb: c.Underlying()}
}

// Update records a user's new balance.
func (r *Ranking) Update(ctx context.Context, userID string, balanceCents int64) error {
	err := r.rdb.ZAdd(ctx, rankingKey, redis.Z{
		Score:  float64(balanceCents),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: ranking update %s: %w", userID, err)
	}
	return nil
}

// Top returns the first k entries ordered by balance descending, user
// ID ascending. ZREVRANGE alone orders equal scores by member
// descending, so the equal-lowest-score cohort is widened to all of its
// members, re-sorted, and cut back to k.
func (r *Ranking) Top(ctx context.Context, k int) ([]domain.RankingEntry, error) {
	if k <= 0 {
		return nil, nil
	}

	zs, err := r.rdb.ZRevRangeWithScores(ctx, rankingKey, 0, int64(k)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: ranking top: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}

	// Widen the boundary cohort: every member sharing the lowest score
	// in the window must participate in the tie-break.
	lowest := zs[len(zs)-1].Score
	cohort, err := r.rdb.ZRangeByScoreWithScores(ctx, rankingKey, &redis.ZRangeBy{
		Min: formatScore(lowest),
		Max: formatScore(lowest),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: ranking top cohort: %w", err)
	}

	seen := make(map[string]struct{}, len(zs)+len(cohort))
	entries := make([]domain.RankingEntry, 0, len(zs)+len(cohort))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, domain.RankingEntry{UserID: id, BalanceCents: int64(z.Score)})
	}
	for _, z := range cohort {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, domain.RankingEntry{UserID: id, BalanceCents: int64(z.Score)})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].BalanceCents != entries[j].BalanceCents {
			return entries[i].BalanceCents > entries[j].BalanceCents
		}
		return entries[i].UserID < entries[j].UserID
	})

	if len(entries) > k {
		entries = entries[:k]
	}
	return entries, nil
}

// Rank returns the 1-based leaderboard position of the user, computed
// as the number of strictly richer users plus the user's position among
// members with the same balance (user ID ascending).
func (r *Ranking) Rank(ctx context.Context, userID string) (int64, error) {
	score, err := r.rdb.ZScore(ctx, rankingKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: ranking rank %s: %w", userID, err)
	}

	richer, err := r.rdb.ZCount(ctx, rankingKey, "("+formatScore(score), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis: ranking rank %s: %w", userID, err)
	}

	peers, err := r.rdb.ZRangeByScore(ctx, rankingKey, &redis.ZRangeBy{
		Min: formatScore(score),
		Max: formatScore(score),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: ranking rank %s: %w", userID, err)
	}
	sort.Strings(peers)

	for i, peer := range peers {
		if peer == userID {
			return richer + int64(i) + 1, nil
		}
	}
	return 0, domain.ErrNotFound
}

// Count returns the number of indexed users.
func (r *Ranking) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.ZCard(ctx, rankingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: ranking count: %w", err)
	}
	return n, nil
}

// Rebuild replaces the whole index atomically via a pipelined DEL plus
// ZADD, used at startup to resync from the accounts table.
func (r *Ranking) Rebuild(ctx context.Context, entries []domain.RankingEntry) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, rankingKey)
	if len(entries) > 0 {
		zs := make([]redis.Z, len(entries))
		for i, e := range entries {
			zs[i] = redis.Z{Score: float64(e.BalanceCents), Member: e.UserID}
		}
		pipe.ZAdd(ctx, rankingKey, zs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: ranking rebuild: %w", err)
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

var _ domain.RankingIndex = (*Ranking)(nil)
