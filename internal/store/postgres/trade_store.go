package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goosemarket/marketd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trade
// log is append-only; inserts happen inside ledger transactions.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection
// pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, market_id, user_id, side, share_delta, cash_delta_cents, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t    domain.Trade
		side string
	)
	err := row.Scan(&t.ID, &t.MarketID, &t.UserID, &side, &t.ShareDelta, &t.CashDeltaCents, &t.CreatedAt)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	return t, nil
}

func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.queryTrades(ctx, "market_id", marketID, opts)
}

func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.queryTrades(ctx, "user_id", userID, opts)
}

func (s *TradeStore) queryTrades(ctx context.Context, col, value string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE %s = $1 ORDER BY created_at ASC, id ASC`, tradeCols, col)
	args := []any{value}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s: %w", col, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
