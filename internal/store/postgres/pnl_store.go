package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// PnLStore implements domain.PnLStore using PostgreSQL.
type PnLStore struct {
	pool *pgxpool.Pool
}

var _ domain.PnLStore = (*PnLStore)(nil)

// NewPnLStore creates a PnLStore backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

const pnlSelectCols = `order_id, symbol, price_pnl, funding_pnl, fees,
	net_pnl, roi, holding_hours, opened_at, closed_at, computed_at`

func scanPnL(row pgx.Row) (domain.PnLRecord, error) {
	var r domain.PnLRecord
	err := row.Scan(
		&r.OrderID, &r.Symbol, &r.PricePnL, &r.FundingPnL, &r.Fees,
		&r.NetPnL, &r.ROI, &r.HoldingHours, &r.OpenedAt, &r.ClosedAt, &r.ComputedAt,
	)
	return r, err
}

// Upsert writes the record, replacing any previous computation for the same
// order.
func (s *PnLStore) Upsert(ctx context.Context, r domain.PnLRecord) error {
	const query = `
		INSERT INTO pnl_records (
			order_id, symbol, price_pnl, funding_pnl, fees,
			net_pnl, roi, holding_hours, opened_at, closed_at, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			price_pnl = EXCLUDED.price_pnl,
			funding_pnl = EXCLUDED.funding_pnl,
			fees = EXCLUDED.fees,
			net_pnl = EXCLUDED.net_pnl,
			roi = EXCLUDED.roi,
			holding_hours = EXCLUDED.holding_hours,
			closed_at = EXCLUDED.closed_at,
			computed_at = EXCLUDED.computed_at`
	_, err := s.pool.Exec(ctx, query,
		r.OrderID, r.Symbol, r.PricePnL, r.FundingPnL, r.Fees,
		r.NetPnL, r.ROI, r.HoldingHours, r.OpenedAt, r.ClosedAt, r.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pnl: %w", err)
	}
	return nil
}

// GetByOrder returns one order's realized record.
func (s *PnLStore) GetByOrder(ctx context.Context, orderID string) (domain.PnLRecord, error) {
	query := `SELECT ` + pnlSelectCols + ` FROM pnl_records WHERE order_id = $1`
	r, err := scanPnL(s.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PnLRecord{}, fmt.Errorf("postgres: pnl for %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PnLRecord{}, fmt.Errorf("postgres: get pnl: %w", err)
	}
	return r, nil
}

// ListRecent returns the most recently closed records.
func (s *PnLStore) ListRecent(ctx context.Context, limit int) ([]domain.PnLRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + pnlSelectCols + ` FROM pnl_records ORDER BY closed_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent pnl: %w", err)
	}
	defer rows.Close()

	var out []domain.PnLRecord
	for rows.Next() {
		r, err := scanPnL(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan recent pnl: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates records closed at or after since.
func (s *PnLStore) Summary(ctx context.Context, since time.Time) (domain.PnLSummary, error) {
	const query = `
		SELECT
			COALESCE(SUM(net_pnl), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE net_pnl > 0),
			COALESCE(AVG(roi), 0)
		FROM pnl_records WHERE closed_at >= $1`
	var sum domain.PnLSummary
	err := s.pool.QueryRow(ctx, query, since).Scan(&sum.TotalNetPnL, &sum.OrderCount, &sum.WinCount, &sum.AvgROI)
	if err != nil {
		return domain.PnLSummary{}, fmt.Errorf("postgres: pnl summary: %w", err)
	}
	return sum, nil
}
