package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goosemarket/marketd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
// Positions are written only inside ledger transactions; this store is
// read-only.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given
// connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `user_id, market_id, side, quantity, cost_basis_cents, realized_pnl_cents, updated_at`

func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY market_id, side`,
		userID)
}

func (s *PositionStore) ListByUserMarket(ctx context.Context, userID, marketID string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2 ORDER BY side`,
		userID, marketID)
}

func (s *PositionStore) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p    domain.Position
			side string
		)
		if err := rows.Scan(&p.UserID, &p.MarketID, &side,
			&p.Quantity, &p.CostBasisCents, &p.RealizedPnLCents, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Side = domain.Side(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
