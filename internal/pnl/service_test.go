package pnl

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// memTradeStore serves a fixed trade set.
type memTradeStore struct {
	trades []domain.Trade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTradeStore) ListByOrder(_ context.Context, orderID string) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memRateStore serves rate history ordered by observation time.
type memRateStore struct {
	samples []domain.RateSample
}

func (s *memRateStore) InsertBatch(_ context.Context, batch []domain.RateSample) error {
	s.samples = append(s.samples, batch...)
	return nil
}

func (s *memRateStore) ListRange(_ context.Context, venue domain.Venue, symbol string, since, until time.Time) ([]domain.RateSample, error) {
	var out []domain.RateSample
	for _, r := range s.samples {
		if r.Venue == venue && r.Symbol == symbol && !r.ObservedAt.Before(since) && !r.ObservedAt.After(until) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRateStore) ListBefore(_ context.Context, _ time.Time) ([]domain.RateSample, error) {
	return nil, nil
}

func (s *memRateStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memPnLStore records upserts.
type memPnLStore struct {
	records map[string]domain.PnLRecord
}

func (s *memPnLStore) Upsert(_ context.Context, rec domain.PnLRecord) error {
	if s.records == nil {
		s.records = make(map[string]domain.PnLRecord)
	}
	s.records[rec.OrderID] = rec
	return nil
}

func (s *memPnLStore) GetByOrder(_ context.Context, orderID string) (domain.PnLRecord, error) {
	rec, ok := s.records[orderID]
	if !ok {
		return domain.PnLRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memPnLStore) ListRecent(_ context.Context, _ int) ([]domain.PnLRecord, error) {
	return nil, nil
}

func (s *memPnLStore) Summary(_ context.Context, _ time.Time) (domain.PnLSummary, error) {
	return domain.PnLSummary{}, nil
}

func TestRealizeClosedOrderCollectsFunding(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The order reaches the service exactly as the close path leaves it:
	// terminal, with both legs flattened back to zero.
	order := closedOrder()
	order.Legs[0].FilledNotional = 0
	order.Legs[1].FilledNotional = 0

	trades := &memTradeStore{trades: roundTrip(order.ID)}
	rates := &memRateStore{samples: []domain.RateSample{
		{Venue: "lighter", Symbol: "BTCUSDC", FundingRate: 0.01, MarkPrice: 50000, ObservedAt: order.OpenedAt},
		{Venue: "binance", Symbol: "BTCUSDC", FundingRate: 0.001, MarkPrice: 50000, ObservedAt: order.OpenedAt},
	}}
	store := &memPnLStore{}

	svc := NewService(logger, trades, rates, store)
	rec, err := svc.Realize(context.Background(), order)
	require.NoError(t, err)

	// Three funding boundaries inside the 24h hold; the short leg collects
	// 0.01*100 at each, the long pays 0.001*100.
	assert.InDelta(t, 2.7, rec.FundingPnL, 1e-9)
	assert.InDelta(t, 0.0, rec.PricePnL, 1e-9)
	assert.InDelta(t, 0.12, rec.Fees, 1e-9)
	assert.InDelta(t, 2.58, rec.NetPnL, 1e-9)
	// Margin = 200 opened / 4x leverage.
	assert.InDelta(t, rec.NetPnL/50.0, rec.ROI, 1e-12)

	stored, err := store.GetByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}
