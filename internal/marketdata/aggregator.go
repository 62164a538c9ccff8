// Package marketdata polls funding rates and mark prices from both venues,
// maintains rolling spread windows per symbol, and publishes spread snapshots
// to the cache and signal bus.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// Config tunes the aggregator's polling and freshness behavior. Funding
// rates move on a coarse cadence; mark prices are refreshed independently on
// a fine one.
type Config struct {
	Symbols       []string
	RateInterval  time.Duration
	PriceInterval time.Duration
	WindowHorizon time.Duration
	StaleAfter    time.Duration
}

// Aggregator is the market-data hub. It owns the in-memory rolling windows
// and the latest per-venue samples; everything downstream reads spreads
// through it.
type Aggregator struct {
	logger *slog.Logger
	cfg    Config
	venues domain.VenuePair

	rates domain.RateStore
	cache domain.SpreadCache
	bus   domain.SignalBus

	mu      sync.RWMutex
	windows map[string]*Window
	latest  map[domain.Venue]map[string]domain.RateSample
}

// New constructs an Aggregator. Store, cache, and bus may be nil in tests;
// each is skipped when absent.
func New(logger *slog.Logger, cfg Config, venues domain.VenuePair, rates domain.RateStore, cache domain.SpreadCache, bus domain.SignalBus) *Aggregator {
	windows := make(map[string]*Window, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		windows[sym] = NewWindow(cfg.WindowHorizon)
	}
	return &Aggregator{
		logger:  logger.With(slog.String("component", "marketdata")),
		cfg:     cfg,
		venues:  venues,
		rates:   rates,
		cache:   cache,
		bus:     bus,
		windows: windows,
		latest: map[domain.Venue]map[string]domain.RateSample{
			venues.A.Name(): make(map[string]domain.RateSample),
			venues.B.Name(): make(map[string]domain.RateSample),
		},
	}
}

// Run polls both venues on the configured interval until ctx is cancelled.
// A failed poll of one venue degrades the affected snapshots to stale instead
// of stopping the loop.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("aggregator started",
		slog.Int("symbols", len(a.cfg.Symbols)),
		slog.Duration("interval", a.cfg.RateInterval),
		slog.Duration("horizon", a.cfg.WindowHorizon))

	rateTicker := time.NewTicker(a.cfg.RateInterval)
	defer rateTicker.Stop()

	priceInterval := a.cfg.PriceInterval
	if priceInterval <= 0 {
		priceInterval = a.cfg.RateInterval
	}
	priceTicker := time.NewTicker(priceInterval)
	defer priceTicker.Stop()

	// First poll immediately so snapshots exist before the first tick.
	a.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aggregator stopped")
			return ctx.Err()
		case <-rateTicker.C:
			a.pollOnce(ctx)
		case <-priceTicker.C:
			a.pollPrices(ctx)
		}
	}
}

// pollOnce samples every symbol on both venues concurrently, then folds the
// results into windows, snapshots, persistence, and the bus.
func (a *Aggregator) pollOnce(ctx context.Context) {
	now := time.Now().UTC()

	type result struct {
		sample domain.RateSample
		err    error
	}
	results := make([]result, 2*len(a.cfg.Symbols))

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range a.cfg.Symbols {
		for j, adapter := range []domain.VenueAdapter{a.venues.A, a.venues.B} {
			idx := 2*i + j
			sym, adapter := sym, adapter
			g.Go(func() error {
				s, err := sampleVenue(gctx, adapter, sym)
				results[idx] = result{sample: s, err: err}
				return nil
			})
		}
	}
	_ = g.Wait()

	var fresh []domain.RateSample
	for _, r := range results {
		if r.err != nil {
			a.logger.Warn("venue sample failed",
				slog.String("venue", string(r.sample.Venue)),
				slog.String("symbol", r.sample.Symbol),
				slog.String("error", r.err.Error()))
			continue
		}
		fresh = append(fresh, r.sample)
	}

	a.mu.Lock()
	for _, s := range fresh {
		a.latest[s.Venue][s.Symbol] = s
	}
	snaps := make([]domain.SpreadSnapshot, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		snap := a.computeLocked(sym, now)
		if !snap.Stale {
			a.windows[sym].Add(snap.InstantSpread, now)
			snap.AvgSpread, snap.SampleCount = a.windows[sym].Avg(now)
		}
		snaps = append(snaps, snap)
	}
	a.mu.Unlock()

	if a.rates != nil && len(fresh) > 0 {
		if err := a.rates.InsertBatch(ctx, fresh); err != nil {
			a.logger.Error("persist samples failed", slog.String("error", err.Error()))
		}
	}

	for _, snap := range snaps {
		a.publish(ctx, snap)
	}
}

// pollPrices refreshes mark prices on the fine cadence. Only the price field
// of the latest samples changes; funding observations and their freshness
// bounds are untouched, so a price refresh never masks a stale rate feed.
func (a *Aggregator) pollPrices(ctx context.Context) {
	type priced struct {
		venue  domain.Venue
		symbol string
		price  float64
		ok     bool
	}
	results := make([]priced, 2*len(a.cfg.Symbols))

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range a.cfg.Symbols {
		for j, adapter := range []domain.VenueAdapter{a.venues.A, a.venues.B} {
			idx := 2*i + j
			sym, adapter := sym, adapter
			g.Go(func() error {
				p, _, err := adapter.MarkPrice(gctx, sym)
				if err != nil {
					a.logger.Warn("mark price poll failed",
						slog.String("venue", string(adapter.Name())),
						slog.String("symbol", sym),
						slog.String("error", err.Error()))
					return nil
				}
				results[idx] = priced{venue: adapter.Name(), symbol: sym, price: p, ok: true}
				return nil
			})
		}
	}
	_ = g.Wait()

	now := time.Now().UTC()

	a.mu.Lock()
	for _, r := range results {
		if !r.ok {
			continue
		}
		if s, ok := a.latest[r.venue][r.symbol]; ok {
			s.MarkPrice = r.price
			a.latest[r.venue][r.symbol] = s
		}
	}
	snaps := make([]domain.SpreadSnapshot, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		snap := a.computeLocked(sym, now)
		snap.AvgSpread, snap.SampleCount = a.windows[sym].Avg(now)
		snaps = append(snaps, snap)
	}
	a.mu.Unlock()

	for _, snap := range snaps {
		a.publish(ctx, snap)
	}
}

// sampleVenue fetches one venue's funding rate and mark price for a symbol.
// The returned sample carries venue and symbol even on error so the caller
// can attribute the failure.
func sampleVenue(ctx context.Context, adapter domain.VenueAdapter, symbol string) (domain.RateSample, error) {
	s := domain.RateSample{Venue: adapter.Name(), Symbol: symbol}

	rate, asOf, err := adapter.FundingRate(ctx, symbol)
	if err != nil {
		return s, fmt.Errorf("marketdata: funding rate: %w", err)
	}
	price, _, err := adapter.MarkPrice(ctx, symbol)
	if err != nil {
		return s, fmt.Errorf("marketdata: mark price: %w", err)
	}

	s.FundingRate = rate
	s.MarkPrice = price
	s.ObservedAt = asOf
	if s.ObservedAt.IsZero() {
		s.ObservedAt = time.Now().UTC()
	}
	return s, nil
}

// computeLocked derives the snapshot for one symbol from the latest samples.
// Caller holds a.mu.
func (a *Aggregator) computeLocked(symbol string, now time.Time) domain.SpreadSnapshot {
	sa, okA := a.latest[a.venues.A.Name()][symbol]
	sb, okB := a.latest[a.venues.B.Name()][symbol]

	snap := domain.SpreadSnapshot{Symbol: symbol, ObservedAt: now, Stale: true}
	if !okA || !okB {
		return snap
	}

	snap.RateA = sa.FundingRate
	snap.RateB = sb.FundingRate
	snap.MarkPriceA = sa.MarkPrice
	snap.MarkPriceB = sb.MarkPrice
	snap.InstantSpread = sa.FundingRate - sb.FundingRate

	cutoff := now.Add(-a.cfg.StaleAfter)
	snap.Stale = sa.ObservedAt.Before(cutoff) || sb.ObservedAt.Before(cutoff)
	return snap
}

// publish writes the snapshot to the cache and bus. Failures are logged, not
// propagated; the in-memory view stays authoritative.
func (a *Aggregator) publish(ctx context.Context, snap domain.SpreadSnapshot) {
	if a.cache != nil {
		if err := a.cache.SetSnapshot(ctx, snap); err != nil {
			a.logger.Warn("cache snapshot failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()))
		}
	}
	if a.bus != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = a.bus.Publish(ctx, domain.ChannelSpreads, payload)
		}
		if err != nil {
			a.logger.Warn("publish snapshot failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()))
		}
	}
}

// Snapshot returns the current spread view for one symbol. A symbol with no
// data yet returns ErrStaleData.
func (a *Aggregator) Snapshot(symbol string) (domain.SpreadSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	w, ok := a.windows[symbol]
	if !ok {
		return domain.SpreadSnapshot{}, fmt.Errorf("marketdata: %q: %w", symbol, domain.ErrInvalidSymbol)
	}

	now := time.Now().UTC()
	snap := a.computeLocked(symbol, now)
	snap.AvgSpread, snap.SampleCount = w.Avg(now)
	if snap.Stale {
		return snap, fmt.Errorf("marketdata: %q: %w", symbol, domain.ErrStaleData)
	}
	return snap, nil
}

// Snapshots returns the current view for every configured symbol, stale ones
// included.
func (a *Aggregator) Snapshots() []domain.SpreadSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now().UTC()
	out := make([]domain.SpreadSnapshot, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		snap := a.computeLocked(sym, now)
		snap.AvgSpread, snap.SampleCount = a.windows[sym].Avg(now)
		out = append(out, snap)
	}
	return out
}

// MarkPrices returns the latest mark prices for a symbol on both venues.
// Used by the risk monitor and the close path.
func (a *Aggregator) MarkPrices(symbol string) (priceA, priceB float64, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sa, okA := a.latest[a.venues.A.Name()][symbol]
	sb, okB := a.latest[a.venues.B.Name()][symbol]
	if !okA || !okB {
		return 0, 0, fmt.Errorf("marketdata: %q: %w", symbol, domain.ErrStaleData)
	}
	return sa.MarkPrice, sb.MarkPrice, nil
}
