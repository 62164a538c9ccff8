package detector

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

type fakeSpreads struct {
	snaps map[string]domain.SpreadSnapshot
}

func (f *fakeSpreads) Snapshot(symbol string) (domain.SpreadSnapshot, error) {
	return f.snaps[symbol], nil
}

func (f *fakeSpreads) Snapshots() []domain.SpreadSnapshot {
	out := make([]domain.SpreadSnapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out
}

type fakeCapacity struct {
	aggregate float64
	active    map[string]bool
}

func (f *fakeCapacity) AggregateNotional() float64 { return f.aggregate }
func (f *fakeCapacity) HasActiveOrder(symbol string) bool {
	return f.active[symbol]
}

func newTestDetector(spreads *fakeSpreads, capacity *fakeCapacity) *Detector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, Config{
		FundingRateThreshold: 0.01,
		NotionalPerTrade:     100,
		MaxTotalPosition:     1000,
		Leverage:             3,
		MaxHolding:           168 * time.Hour,
	}, spreads, capacity, nil)
}

func snap(symbol string, instant, avg float64, samples int) domain.SpreadSnapshot {
	return domain.SpreadSnapshot{
		Symbol:        symbol,
		InstantSpread: instant,
		AvgSpread:     avg,
		SampleCount:   samples,
		ObservedAt:    time.Now(),
	}
}

func TestEvaluatePassesBothGates(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.015, 0.012, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	opp, err := d.Evaluate("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, domain.ShortALongB, opp.Direction)
	assert.Equal(t, domain.SideShort, opp.SideA())
	assert.Equal(t, domain.SideLong, opp.SideB())
	assert.Equal(t, 100.0, opp.Notional)
	assert.Equal(t, 3, opp.Leverage)
	assert.NotEmpty(t, opp.ID)
}

func TestEvaluateNegativeSpreadDirection(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", -0.02, -0.015, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	opp, err := d.Evaluate("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, domain.LongAShortB, opp.Direction)
	assert.Equal(t, domain.SideLong, opp.SideA())
}

func TestEvaluateRejectsSpikeWithoutAverage(t *testing.T) {
	// Instant clears the threshold but the window average does not.
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.05, 0.003, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, errBelowThreshold)
}

func TestEvaluateRejectsDecayedInstant(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.002, 0.02, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, errBelowThreshold)
}

func TestEvaluateRejectsSignMismatch(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.02, -0.02, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, errBelowThreshold)
}

func TestEvaluateRejectsStale(t *testing.T) {
	s := snap("BTCUSDC", 0.02, 0.02, 10)
	s.Stale = true
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{"BTCUSDC": s}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, domain.ErrStaleData)
}

func TestEvaluateRespectsActiveOrder(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.02, 0.02, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{"BTCUSDC": true}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, errNoCapacity)
}

func TestEvaluateRespectsAggregateLimit(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.02, 0.02, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{aggregate: 950, active: map[string]bool{}})

	_, err := d.Evaluate("BTCUSDC")
	require.ErrorIs(t, err, errNoCapacity)
}

func TestScanReturnsOnlyPassing(t *testing.T) {
	spreads := &fakeSpreads{snaps: map[string]domain.SpreadSnapshot{
		"BTCUSDC": snap("BTCUSDC", 0.02, 0.02, 10),
		"ETHUSDC": snap("ETHUSDC", 0.001, 0.001, 10),
	}}
	d := newTestDetector(spreads, &fakeCapacity{active: map[string]bool{}})

	opps := d.Scan(context.Background())
	require.Len(t, opps, 1)
	assert.Equal(t, "BTCUSDC", opps[0].Symbol)
}

func TestShouldCloseOnReversal(t *testing.T) {
	d := newTestDetector(&fakeSpreads{}, &fakeCapacity{})
	order := domain.ArbitrageOrder{EntrySpread: 0.02, OpenedAt: time.Now().Add(-time.Hour)}

	ok, reason := d.ShouldClose(order, snap("BTCUSDC", -0.015, -0.01, 5), time.Now())
	assert.True(t, ok)
	assert.Equal(t, "spread reversed", reason)
}

func TestShouldCloseOnDecay(t *testing.T) {
	d := newTestDetector(&fakeSpreads{}, &fakeCapacity{})
	order := domain.ArbitrageOrder{EntrySpread: 0.02, OpenedAt: time.Now().Add(-time.Hour)}

	ok, reason := d.ShouldClose(order, snap("BTCUSDC", 0.004, 0.01, 5), time.Now())
	assert.True(t, ok)
	assert.Contains(t, reason, "decayed")
}

func TestShouldCloseOnMaxHolding(t *testing.T) {
	d := newTestDetector(&fakeSpreads{}, &fakeCapacity{})
	order := domain.ArbitrageOrder{EntrySpread: 0.02, OpenedAt: time.Now().Add(-200 * time.Hour)}

	ok, reason := d.ShouldClose(order, snap("BTCUSDC", 0.02, 0.02, 5), time.Now())
	assert.True(t, ok)
	assert.Contains(t, reason, "held longer")
}

func TestShouldStayOpen(t *testing.T) {
	d := newTestDetector(&fakeSpreads{}, &fakeCapacity{})
	order := domain.ArbitrageOrder{EntrySpread: 0.02, OpenedAt: time.Now().Add(-time.Hour)}

	ok, reason := d.ShouldClose(order, snap("BTCUSDC", 0.02, 0.02, 5), time.Now())
	assert.False(t, ok)
	assert.Empty(t, reason)
}

func TestShouldCloseIgnoresStaleSnapshot(t *testing.T) {
	d := newTestDetector(&fakeSpreads{}, &fakeCapacity{})
	order := domain.ArbitrageOrder{EntrySpread: 0.02, OpenedAt: time.Now().Add(-time.Hour)}

	s := snap("BTCUSDC", -0.02, -0.02, 5)
	s.Stale = true
	ok, _ := d.ShouldClose(order, s, time.Now())
	assert.False(t, ok)
}
