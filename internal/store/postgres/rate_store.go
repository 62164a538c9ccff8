package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// RateStore implements domain.RateStore using PostgreSQL.
type RateStore struct {
	pool *pgxpool.Pool
}

var _ domain.RateStore = (*RateStore)(nil)

// NewRateStore creates a RateStore backed by the given connection pool.
func NewRateStore(pool *pgxpool.Pool) *RateStore {
	return &RateStore{pool: pool}
}

const rateSelectCols = `venue, symbol, funding_rate, mark_price, observed_at`

func scanRateRows(rows pgx.Rows) ([]domain.RateSample, error) {
	var samples []domain.RateSample
	for rows.Next() {
		var s domain.RateSample
		if err := rows.Scan(&s.Venue, &s.Symbol, &s.FundingRate, &s.MarkPrice, &s.ObservedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// InsertBatch inserts multiple samples using a pgx batch.
func (s *RateStore) InsertBatch(ctx context.Context, samples []domain.RateSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO rate_samples (venue, symbol, funding_rate, mark_price, observed_at)
		VALUES ($1, $2, $3, $4, $5)`
	for _, sample := range samples {
		batch.Queue(query, sample.Venue, sample.Symbol, sample.FundingRate, sample.MarkPrice, sample.ObservedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range samples {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert rate sample %d: %w", i, err)
		}
	}
	return nil
}

// ListRange returns one venue's samples for a symbol inside [since, until],
// oldest first.
func (s *RateStore) ListRange(ctx context.Context, venue domain.Venue, symbol string, since, until time.Time) ([]domain.RateSample, error) {
	query := `SELECT ` + rateSelectCols + ` FROM rate_samples
		WHERE venue = $1 AND symbol = $2 AND observed_at >= $3 AND observed_at <= $4
		ORDER BY observed_at ASC`
	rows, err := s.pool.Query(ctx, query, venue, symbol, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rate range: %w", err)
	}
	defer rows.Close()

	samples, err := scanRateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rate range: %w", err)
	}
	return samples, nil
}

// ListBefore returns all samples observed strictly before the given time,
// oldest first (for archiving).
func (s *RateStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RateSample, error) {
	query := `SELECT ` + rateSelectCols + ` FROM rate_samples WHERE observed_at < $1 ORDER BY observed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rates before: %w", err)
	}
	defer rows.Close()
	return scanRateRows(rows)
}

// DeleteBefore deletes samples observed before the given time and returns
// the number deleted.
func (s *RateStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_samples WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rates before: %w", err)
	}
	return tag.RowsAffected(), nil
}
