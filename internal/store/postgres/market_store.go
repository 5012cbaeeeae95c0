package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goosemarket/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given
// connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, description, tags, creator_id,
	liquidity_b, q_yes, q_no, status, closes_at, resolved_outcome,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m        domain.Market
		status   string
		resolved *string
	)
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.Tags, &m.CreatorID,
		&m.LiquidityB, &m.QYes, &m.QNo, &status, &m.ClosesAt, &resolved,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if resolved != nil {
		o := domain.Side(*resolved)
		m.ResolvedOutcome = &o
	}
	return m, nil
}

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, title, description, tags, creator_id,
			liquidity_b, q_yes, q_no, status, closes_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Title, m.Description, m.Tags, m.CreatorID,
		m.LiquidityB, m.QYes, m.QNo, string(m.Status), m.ClosesAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (s *MarketStore) UpdateDetails(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets
		SET title = $2, description = $3, tags = $4, closes_at = $5, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending_review', 'active')`

	tag, err := s.pool.Exec(ctx, query, m.ID, m.Title, m.Description, m.Tags, m.ClosesAt)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from no-longer-editable.
		if _, err := s.GetByID(ctx, m.ID); err != nil {
			return err
		}
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *MarketStore) TransitionStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: transition market %s from %s: %w", id, from, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *MarketStore) CloseDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE markets SET status = 'closed', updated_at = $1
		WHERE status = 'active' AND closes_at <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: close due markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan closed market id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: close due markets rows: %w", err)
	}
	return ids, nil
}

func (s *MarketStore) ForceClose(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = 'closed', closes_at = LEAST(closes_at, $2), updated_at = $2
		WHERE id = $1 AND status = 'active'`, id, now)
	if err != nil {
		return fmt.Errorf("postgres: force close market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: force close market %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts, tag string) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argIdx)
		args = append(args, tag)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

func (s *MarketStore) ListPendingReview(ctx context.Context) ([]domain.Market, error) {
	return s.queryMarkets(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = 'pending_review' ORDER BY created_at ASC`)
}

func (s *MarketStore) ListUnresolved(ctx context.Context, now time.Time) ([]domain.Market, error) {
	// Markets past their close time count as closed even before the
	// sweeper has persisted the flip.
	return s.queryMarkets(ctx, `
		SELECT `+marketCols+` FROM markets
		WHERE status = 'closed' OR (status = 'active' AND closes_at <= $1)
		ORDER BY closes_at ASC`, now)
}

func (s *MarketStore) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT unnest(tags) AS tag FROM markets ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres: scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tags rows: %w", err)
	}
	return tags, nil
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query markets rows: %w", err)
	}
	return markets, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
