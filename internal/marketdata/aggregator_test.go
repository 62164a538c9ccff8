package marketdata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
	"github.com/piaqi001/funding-rate-bot/internal/venue/paper"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPair() (*paper.Adapter, *paper.Adapter, domain.VenuePair) {
	a := paper.New(paper.Options{Name: "lighter", Balance: 10000})
	b := paper.New(paper.Options{Name: "binance", Balance: 10000})
	return a, b, domain.VenuePair{A: a, B: b}
}

func newTestAggregator(pair domain.VenuePair) *Aggregator {
	return New(testLogger(), Config{
		Symbols:       []string{"BTCUSDC"},
		RateInterval:  time.Minute,
		WindowHorizon: 8 * time.Hour,
		StaleAfter:    3 * time.Minute,
	}, pair, nil, nil, nil)
}

func TestAggregatorComputesSpread(t *testing.T) {
	a, b, pair := newTestPair()
	a.SetFundingRate("BTCUSDC", 0.015)
	a.SetMarkPrice("BTCUSDC", 50000)
	b.SetFundingRate("BTCUSDC", -0.002)
	b.SetMarkPrice("BTCUSDC", 50010)

	agg := newTestAggregator(pair)
	agg.pollOnce(context.Background())

	snap, err := agg.Snapshot("BTCUSDC")
	require.NoError(t, err)
	assert.InDelta(t, 0.017, snap.InstantSpread, 1e-12)
	assert.InDelta(t, 0.017, snap.AvgSpread, 1e-12)
	assert.Equal(t, 1, snap.SampleCount)
	assert.Equal(t, 50000.0, snap.MarkPriceA)
	assert.Equal(t, 50010.0, snap.MarkPriceB)
	assert.False(t, snap.Stale)
}

func TestAggregatorAveragesOverWindow(t *testing.T) {
	a, b, pair := newTestPair()
	b.SetFundingRate("BTCUSDC", 0)
	b.SetMarkPrice("BTCUSDC", 50000)
	a.SetMarkPrice("BTCUSDC", 50000)

	agg := newTestAggregator(pair)
	for _, rate := range []float64{0.01, 0.02, 0.03} {
		a.SetFundingRate("BTCUSDC", rate)
		agg.pollOnce(context.Background())
	}

	snap, err := agg.Snapshot("BTCUSDC")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, snap.InstantSpread, 1e-12)
	assert.InDelta(t, 0.02, snap.AvgSpread, 1e-12)
	assert.Equal(t, 3, snap.SampleCount)
}

func TestAggregatorStaleWhenVenueDown(t *testing.T) {
	a, b, pair := newTestPair()
	a.SetFundingRate("BTCUSDC", 0.01)
	a.SetMarkPrice("BTCUSDC", 50000)

	// Venue B never produced a sample.
	b.FailWith(errors.New("connection refused"))

	agg := newTestAggregator(pair)
	agg.pollOnce(context.Background())

	snap, err := agg.Snapshot("BTCUSDC")
	require.ErrorIs(t, err, domain.ErrStaleData)
	assert.True(t, snap.Stale)
	assert.Equal(t, 0, snap.SampleCount)
}

func TestAggregatorKeepsLastSampleThroughOutage(t *testing.T) {
	a, b, pair := newTestPair()
	a.SetFundingRate("BTCUSDC", 0.01)
	a.SetMarkPrice("BTCUSDC", 50000)
	b.SetFundingRate("BTCUSDC", 0.002)
	b.SetMarkPrice("BTCUSDC", 50005)

	agg := newTestAggregator(pair)
	agg.pollOnce(context.Background())

	// B goes down; the last good sample is still inside the freshness bound.
	b.FailWith(errors.New("timeout"))
	agg.pollOnce(context.Background())

	snap, err := agg.Snapshot("BTCUSDC")
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	assert.InDelta(t, 0.008, snap.InstantSpread, 1e-12)
}

func TestSnapshotUnknownSymbol(t *testing.T) {
	_, _, pair := newTestPair()
	agg := newTestAggregator(pair)

	_, err := agg.Snapshot("DOGEUSDC")
	require.ErrorIs(t, err, domain.ErrInvalidSymbol)
}

func TestSnapshotReadersAreConcurrencySafe(t *testing.T) {
	a, b, pair := newTestPair()
	a.SetFundingRate("BTCUSDC", 0.01)
	a.SetMarkPrice("BTCUSDC", 50000)
	b.SetFundingRate("BTCUSDC", 0.002)
	b.SetMarkPrice("BTCUSDC", 50005)

	agg := newTestAggregator(pair)
	agg.pollOnce(context.Background())

	// Snapshot readers run from the detector and risk monitor goroutines at
	// once; under the race detector this pins that reads stay read-only.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = agg.Snapshot("BTCUSDC")
				_ = agg.Snapshots()
			}
		}()
	}
	wg.Wait()

	snap, err := agg.Snapshot("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.SampleCount)
}

func TestMarkPrices(t *testing.T) {
	a, b, pair := newTestPair()
	a.SetFundingRate("BTCUSDC", 0.01)
	a.SetMarkPrice("BTCUSDC", 50000)
	b.SetFundingRate("BTCUSDC", 0.002)
	b.SetMarkPrice("BTCUSDC", 50005)

	agg := newTestAggregator(pair)
	agg.pollOnce(context.Background())

	pa, pb, err := agg.MarkPrices("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, pa)
	assert.Equal(t, 50005.0, pb)
}
