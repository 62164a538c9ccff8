package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	failPut error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.failPut != nil {
		return w.failPut
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	return nil
}

type memRateSource struct {
	samples []domain.RateSample
	deleted int64
}

func (s *memRateSource) ListBefore(_ context.Context, before time.Time) ([]domain.RateSample, error) {
	var out []domain.RateSample
	for _, r := range s.samples {
		if r.ObservedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRateSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.RateSample
	var n int64
	for _, r := range s.samples {
		if r.ObservedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.samples = kept
	s.deleted += n
	return n, nil
}

type memTradeSource struct {
	trades  []domain.Trade
	deleted int64
}

func (s *memTradeSource) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.Trade
	var n int64
	for _, t := range s.trades {
		if t.ExecutedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	s.deleted += n
	return n, nil
}

type memOrderSource struct {
	orders []domain.ArbitrageOrder
}

func (s *memOrderSource) ListBefore(_ context.Context, before time.Time) ([]domain.ArbitrageOrder, error) {
	var out []domain.ArbitrageOrder
	for _, o := range s.orders {
		if o.ClosedAt != nil && o.ClosedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveRatesUploadsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rates := &memRateSource{samples: []domain.RateSample{
		{Venue: "lighter", Symbol: "BTC", FundingRate: 0.01, MarkPrice: 50000, ObservedAt: cutoff.Add(-time.Hour)},
		{Venue: "binance", Symbol: "BTC", FundingRate: -0.002, MarkPrice: 50010, ObservedAt: cutoff.Add(-2 * time.Hour)},
		{Venue: "lighter", Symbol: "BTC", FundingRate: 0.011, MarkPrice: 50020, ObservedAt: cutoff.Add(time.Hour)},
	}}
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(testLogger(), writer, nil, rates, &memTradeSource{}, &memOrderSource{}, audit)

	count, err := arch.ArchiveRates(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	payload, ok := writer.objects["archive/rates/2026-08.jsonl"]
	require.True(t, ok)
	lines := bytes.Split(bytes.TrimSpace(payload), []byte("\n"))
	assert.Len(t, lines, 2)

	// The fresh sample survives the prune.
	assert.Len(t, rates.samples, 1)
	assert.Equal(t, []string{"archive.rates"}, audit.events)
}

func TestArchiveTradesFailedUploadLeavesRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := &memTradeSource{trades: []domain.Trade{
		{ID: "t1", OrderID: "o1", Venue: "lighter", Symbol: "BTC", Notional: 100, ExecutedAt: cutoff.Add(-time.Hour)},
	}}
	writer := newMemWriter()
	writer.failPut = errors.New("bucket unavailable")
	arch := NewArchiver(testLogger(), writer, nil, &memRateSource{}, trades, &memOrderSource{}, nil)

	_, err := arch.ArchiveTrades(context.Background(), cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
	assert.Len(t, trades.trades, 1, "rows must survive a failed upload")
	assert.Zero(t, trades.deleted)
}

func TestArchiveOrdersKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	closed := cutoff.Add(-48 * time.Hour)
	orders := &memOrderSource{orders: []domain.ArbitrageOrder{
		{ID: "o1", Symbol: "BTC", State: domain.OrderClosed, ClosedAt: &closed},
	}}
	writer := newMemWriter()
	arch := NewArchiver(testLogger(), writer, nil, &memRateSource{}, &memTradeSource{}, orders, nil)

	count, err := arch.ArchiveOrders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	payload := writer.objects["archive/orders/2026-08.jsonl"]
	assert.True(t, strings.Contains(string(payload), `"o1"`))
	assert.Len(t, orders.orders, 1, "orders are copied, not pruned")
}

func TestArchiveNothingToDo(t *testing.T) {
	writer := newMemWriter()
	arch := NewArchiver(testLogger(), writer, nil, &memRateSource{}, &memTradeSource{}, &memOrderSource{}, nil)

	count, err := arch.ArchiveRates(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	at := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "archive/trades/2026-03.jsonl", archivePath("trades", at))
}
