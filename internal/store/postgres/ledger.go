package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goosemarket/marketd/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL. WithMarket opens one
// transaction and takes a row lock on the market, so all trades and
// settlement sweeps against a market execute strictly one at a time
// across every engine instance sharing the database.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) WithMarket(ctx context.Context, marketID string, fn func(domain.MarketTxn) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR UPDATE serializes all ledger work on this market.
	row := tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: ledger market %s: %w", marketID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}

	txn := &marketTxn{ctx: ctx, tx: tx, market: m}
	if err := fn(txn); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isRetryable(err) {
			return fmt.Errorf("postgres: commit ledger tx: %w", domain.ErrConflict)
		}
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

// marketTxn adapts a pgx transaction to domain.MarketTxn. All writes go
// through the open transaction, so they commit or roll back together.
type marketTxn struct {
	ctx    context.Context
	tx     pgx.Tx
	market domain.Market
}

func (t *marketTxn) Market() domain.Market { return t.market }

func (t *marketTxn) SetShares(qYes, qNo int64) error {
	if qYes < 0 || qNo < 0 {
		return fmt.Errorf("postgres: negative share count: %w", domain.ErrValidation)
	}
	_, err := t.tx.Exec(t.ctx,
		`UPDATE markets SET q_yes = $2, q_no = $3, updated_at = NOW() WHERE id = $1`,
		t.market.ID, qYes, qNo)
	if err != nil {
		return fmt.Errorf("postgres: set shares for %s: %w", t.market.ID, err)
	}
	return nil
}

func (t *marketTxn) Account(userID string) (domain.Account, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: ledger account %s: %w", userID, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: ledger account %s: %w", userID, err)
	}
	return a, nil
}

func (t *marketTxn) AddBalance(userID string, deltaCents int64) (int64, error) {
	var newBalance int64
	err := t.tx.QueryRow(t.ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance_cents`, userID, deltaCents).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("postgres: ledger account %s: %w", userID, domain.ErrNotFound)
		}
		// The CHECK (balance_cents >= 0) constraint backstops the
		// service-level funds check.
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23514" {
			return 0, fmt.Errorf("postgres: balance of %s would go negative: %w", userID, domain.ErrInsufficientFunds)
		}
		return 0, fmt.Errorf("postgres: add balance for %s: %w", userID, err)
	}
	return newBalance, nil
}

func (t *marketTxn) Position(userID string, side domain.Side) (domain.Position, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3 FOR UPDATE`,
		userID, t.market.ID, string(side))

	var (
		p       domain.Position
		sideCol string
	)
	err := row.Scan(&p.UserID, &p.MarketID, &sideCol,
		&p.Quantity, &p.CostBasisCents, &p.RealizedPnLCents, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{UserID: userID, MarketID: t.market.ID, Side: side}, nil
		}
		return domain.Position{}, fmt.Errorf("postgres: ledger position: %w", err)
	}
	p.Side = domain.Side(sideCol)
	return p, nil
}

func (t *marketTxn) PutPosition(p domain.Position) error {
	if p.Quantity < 0 {
		return fmt.Errorf("postgres: negative position quantity: %w", domain.ErrValidation)
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO positions (user_id, market_id, side, quantity, cost_basis_cents, realized_pnl_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, market_id, side) DO UPDATE SET
			quantity           = EXCLUDED.quantity,
			cost_basis_cents   = EXCLUDED.cost_basis_cents,
			realized_pnl_cents = EXCLUDED.realized_pnl_cents,
			updated_at         = NOW()`,
		p.UserID, p.MarketID, string(p.Side),
		p.Quantity, p.CostBasisCents, p.RealizedPnLCents)
	if err != nil {
		return fmt.Errorf("postgres: put position: %w", err)
	}
	return nil
}

func (t *marketTxn) AppendTrade(tr domain.Trade) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO trades (id, market_id, user_id, side, share_delta, cash_delta_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.MarketID, tr.UserID, string(tr.Side),
		tr.ShareDelta, tr.CashDeltaCents, tr.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: append trade %s: %w", tr.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *marketTxn) OpenPositions(side domain.Side) ([]domain.Position, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1 AND side = $2 AND quantity > 0
		 ORDER BY user_id FOR UPDATE`,
		t.market.ID, string(side))
	if err != nil {
		return nil, fmt.Errorf("postgres: open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p       domain.Position
			sideCol string
		)
		if err := rows.Scan(&p.UserID, &p.MarketID, &sideCol,
			&p.Quantity, &p.CostBasisCents, &p.RealizedPnLCents, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		p.Side = domain.Side(sideCol)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: open positions rows: %w", err)
	}
	return positions, nil
}

func (t *marketTxn) SetStatus(status domain.MarketStatus) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE markets SET status = $2, updated_at = NOW() WHERE id = $1`,
		t.market.ID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status for %s: %w", t.market.ID, err)
	}
	return nil
}

func (t *marketTxn) SetResolved(outcome domain.Side) error {
	_, err := t.tx.Exec(t.ctx, `
		UPDATE markets SET status = 'resolved', resolved_outcome = $2, updated_at = NOW()
		WHERE id = $1`, t.market.ID, string(outcome))
	if err != nil {
		return fmt.Errorf("postgres: set resolved for %s: %w", t.market.ID, err)
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
