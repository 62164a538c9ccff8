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

// OrderStore implements domain.OrderStore using PostgreSQL. Each order row
// carries both legs inline.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, symbol, state, entry_spread, leverage, reason,
	venue_a, side_a, target_a, filled_a, avg_price_a, stop_a, take_a, status_a,
	venue_b, side_b, target_b, filled_b, avg_price_b, stop_b, take_b, status_b,
	opened_at, closed_at`

func scanOrder(row pgx.Row) (domain.ArbitrageOrder, error) {
	var o domain.ArbitrageOrder
	a := &o.Legs[0]
	b := &o.Legs[1]
	err := row.Scan(
		&o.ID, &o.Symbol, &o.State, &o.EntrySpread, &o.Leverage, &o.Reason,
		&a.Venue, &a.Side, &a.TargetNotional, &a.FilledNotional, &a.AvgFillPrice, &a.StopLossPrice, &a.TakeProfitPrice, &a.Status,
		&b.Venue, &b.Side, &b.TargetNotional, &b.FilledNotional, &b.AvgFillPrice, &b.StopLossPrice, &b.TakeProfitPrice, &b.Status,
		&o.OpenedAt, &o.ClosedAt,
	)
	return o, err
}

func scanOrderRows(rows pgx.Rows) ([]domain.ArbitrageOrder, error) {
	var orders []domain.ArbitrageOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.ArbitrageOrder) error {
	const query = `
		INSERT INTO orders (
			id, symbol, state, entry_spread, leverage, reason,
			venue_a, side_a, target_a, filled_a, avg_price_a, stop_a, take_a, status_a,
			venue_b, side_b, target_b, filled_b, avg_price_b, stop_b, take_b, status_b,
			opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22,
			$23, $24
		)`
	a, b := o.Legs[0], o.Legs[1]
	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, o.State, o.EntrySpread, o.Leverage, o.Reason,
		a.Venue, a.Side, a.TargetNotional, a.FilledNotional, a.AvgFillPrice, a.StopLossPrice, a.TakeProfitPrice, a.Status,
		b.Venue, b.Side, b.TargetNotional, b.FilledNotional, b.AvgFillPrice, b.StopLossPrice, b.TakeProfitPrice, b.Status,
		o.OpenedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order: %w", err)
	}
	return nil
}

// Update rewrites an existing order row.
func (s *OrderStore) Update(ctx context.Context, o domain.ArbitrageOrder) error {
	const query = `
		UPDATE orders SET
			state = $2, entry_spread = $3, leverage = $4, reason = $5,
			side_a = $6, target_a = $7, filled_a = $8, avg_price_a = $9, stop_a = $10, take_a = $11, status_a = $12,
			side_b = $13, target_b = $14, filled_b = $15, avg_price_b = $16, stop_b = $17, take_b = $18, status_b = $19,
			closed_at = $20
		WHERE id = $1`
	a, b := o.Legs[0], o.Legs[1]
	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.State, o.EntrySpread, o.Leverage, o.Reason,
		a.Side, a.TargetNotional, a.FilledNotional, a.AvgFillPrice, a.StopLossPrice, a.TakeProfitPrice, a.Status,
		b.Side, b.TargetNotional, b.FilledNotional, b.AvgFillPrice, b.StopLossPrice, b.TakeProfitPrice, b.Status,
		o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.ArbitrageOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ArbitrageOrder{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ArbitrageOrder{}, fmt.Errorf("postgres: get order: %w", err)
	}
	return o, nil
}

// ListByState returns orders in any of the given states.
func (s *OrderStore) ListByState(ctx context.Context, states ...domain.OrderState) ([]domain.ArbitrageOrder, error) {
	if len(states) == 0 {
		return nil, nil
	}
	strs := make([]string, len(states))
	for i, st := range states {
		strs[i] = string(st)
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE state = ANY($1) ORDER BY opened_at ASC`
	rows, err := s.pool.Query(ctx, query, strs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by state: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by state: %w", err)
	}
	return orders, nil
}

// ListHistory returns orders for a symbol (all symbols when empty) with
// pagination and optional time filtering, newest first.
func (s *OrderStore) ListHistory(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.ArbitrageOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE 1=1`
	var args []any
	argIdx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list order history: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order history: %w", err)
	}
	return orders, nil
}

// ListBefore returns terminal orders closed strictly before the given time
// (for archiving).
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE closed_at IS NOT NULL AND closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}
