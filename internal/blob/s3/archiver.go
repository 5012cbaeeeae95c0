package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
)

// multipartThreshold is the payload size above which the archiver
// switches from a single PutObject to the multipart upload manager.
const multipartThreshold = 8 * 1024 * 1024

// BlobWriter is the narrow upload surface the archiver needs. The
// package Writer satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobChecker reports object existence. The package Reader satisfies it.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// settlementDoc is the archived record of a resolved market: the final
// market row plus its full append-only trade log, settlement trades
// included.
type settlementDoc struct {
	MarketID   string         `json:"market_id"`
	Title      string         `json:"title"`
	Outcome    string         `json:"outcome"`
	LiquidityB float64        `json:"liquidity_b"`
	QYes       int64          `json:"q_yes"`
	QNo        int64          `json:"q_no"`
	ClosedAt   time.Time      `json:"closed_at"`
	ArchivedAt time.Time      `json:"archived_at"`
	TradeCount int            `json:"trade_count"`
	Trades     []archiveTrade `json:"trades"`
}

type archiveTrade struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Side           string    `json:"side"`
	ShareDelta     int64     `json:"share_delta"`
	CashDeltaCents int64     `json:"cash_delta_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

// Archiver exports resolved markets' trade logs to object storage.
// Resolution is one-shot, so each market archives exactly once; a
// pre-existing object short-circuits replays.
type Archiver struct {
	writer  BlobWriter
	checker BlobChecker
	audit   domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, checker BlobChecker, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:  writer,
		checker: checker,
		audit:   audit,
	}
}

// ArchiveSettlement uploads the market's settlement record to
// markets/{id}/settlement.json. It is idempotent: if the object already
// exists the call is a no-op.
func (a *Archiver) ArchiveSettlement(ctx context.Context, market domain.Market, trades []domain.Trade) error {
	path := settlementPath(market.ID)

	exists, err := a.checker.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: %w", market.ID, err)
	}
	if exists {
		return nil
	}

	outcome := ""
	if market.ResolvedOutcome != nil {
		outcome = string(*market.ResolvedOutcome)
	}

	doc := settlementDoc{
		MarketID:   market.ID,
		Title:      market.Title,
		Outcome:    outcome,
		LiquidityB: market.LiquidityB,
		QYes:       market.QYes,
		QNo:        market.QNo,
		ClosedAt:   market.ClosesAt,
		ArchivedAt: time.Now().UTC(),
		TradeCount: len(trades),
		Trades:     make([]archiveTrade, 0, len(trades)),
	}
	for _, t := range trades {
		doc.Trades = append(doc.Trades, archiveTrade{
			ID:             t.ID,
			UserID:         t.UserID,
			Side:           string(t.Side),
			ShareDelta:     t.ShareDelta,
			CashDeltaCents: t.CashDeltaCents,
			CreatedAt:      t.CreatedAt,
		})
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: marshal: %w", market.ID, err)
	}

	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: upload: %w", market.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
		"market_id": market.ID,
		"path":      path,
		"trades":    len(trades),
	}); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: audit log: %w", market.ID, err)
	}

	return nil
}

// settlementPath builds the object key for a market's settlement
// record.
//
//	markets/1f6b.../settlement.json
func settlementPath(marketID string) string {
	return fmt.Sprintf("markets/%s/settlement.json", marketID)
}
