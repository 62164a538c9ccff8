// Package detector evaluates spread snapshots against the entry policy and
// emits actionable opportunities. It also advises when open orders should be
// closed.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// SpreadSource provides the current spread view. Satisfied by the market-data
// aggregator.
type SpreadSource interface {
	Snapshot(symbol string) (domain.SpreadSnapshot, error)
	Snapshots() []domain.SpreadSnapshot
}

// CapacityProvider answers whether a new order fits the position limits.
// Satisfied by the ledger.
type CapacityProvider interface {
	AggregateNotional() float64
	HasActiveOrder(symbol string) bool
}

// Config tunes the entry and exit policy.
type Config struct {
	FundingRateThreshold float64
	NotionalPerTrade     float64
	MaxTotalPosition     float64
	Leverage             int
	MaxHolding           time.Duration
}

// Detector applies the entry policy to spread snapshots.
type Detector struct {
	logger   *slog.Logger
	cfg      Config
	spreads  SpreadSource
	capacity CapacityProvider
	bus      domain.SignalBus
}

// New constructs a Detector. Bus may be nil; opportunities are then only
// returned, not published.
func New(logger *slog.Logger, cfg Config, spreads SpreadSource, capacity CapacityProvider, bus domain.SignalBus) *Detector {
	return &Detector{
		logger:   logger.With(slog.String("component", "detector")),
		cfg:      cfg,
		spreads:  spreads,
		capacity: capacity,
		bus:      bus,
	}
}

// Scan evaluates every symbol and returns the opportunities that pass the
// policy, publishing each to the bus.
func (d *Detector) Scan(ctx context.Context) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, snap := range d.spreads.Snapshots() {
		opp, err := d.evaluate(snap)
		if err != nil {
			if !errors.Is(err, errBelowThreshold) && !errors.Is(err, errNoCapacity) && !errors.Is(err, domain.ErrStaleData) {
				d.logger.Warn("evaluate failed", slog.String("symbol", snap.Symbol), slog.String("error", err.Error()))
			}
			continue
		}

		d.logger.Info("opportunity detected",
			slog.String("symbol", opp.Symbol),
			slog.String("direction", string(opp.Direction)),
			slog.Float64("instant_spread", opp.InstantSpread),
			slog.Float64("avg_spread", opp.AvgSpread),
			slog.Float64("notional", opp.Notional))

		d.publish(ctx, opp)
		opps = append(opps, opp)
	}
	return opps
}

// Evaluate checks a single symbol against the entry policy.
func (d *Detector) Evaluate(symbol string) (domain.Opportunity, error) {
	snap, err := d.spreads.Snapshot(symbol)
	if err != nil {
		return domain.Opportunity{}, err
	}
	return d.evaluate(snap)
}

var (
	errBelowThreshold = errors.New("spread below threshold")
	errNoCapacity     = errors.New("no capacity")
)

// evaluate applies the policy to one snapshot. Both the instant spread and
// the windowed average must clear the threshold with the same sign; a spike
// alone or a decayed average alone never trades.
func (d *Detector) evaluate(snap domain.SpreadSnapshot) (domain.Opportunity, error) {
	if snap.Stale {
		return domain.Opportunity{}, fmt.Errorf("detector: %q: %w", snap.Symbol, domain.ErrStaleData)
	}
	if snap.SampleCount == 0 {
		return domain.Opportunity{}, fmt.Errorf("detector: %q: %w", snap.Symbol, domain.ErrStaleData)
	}

	if math.Abs(snap.InstantSpread) < d.cfg.FundingRateThreshold ||
		math.Abs(snap.AvgSpread) < d.cfg.FundingRateThreshold ||
		snap.InstantSpread*snap.AvgSpread <= 0 {
		return domain.Opportunity{}, fmt.Errorf("detector: %q: %w", snap.Symbol, errBelowThreshold)
	}

	if d.capacity.HasActiveOrder(snap.Symbol) {
		return domain.Opportunity{}, fmt.Errorf("detector: %q: %w", snap.Symbol, errNoCapacity)
	}
	if d.capacity.AggregateNotional()+d.cfg.NotionalPerTrade > d.cfg.MaxTotalPosition {
		return domain.Opportunity{}, fmt.Errorf("detector: %q: aggregate limit: %w", snap.Symbol, errNoCapacity)
	}

	direction := domain.ShortALongB
	if snap.InstantSpread < 0 {
		direction = domain.LongAShortB
	}

	return domain.Opportunity{
		ID:            uuid.NewString(),
		Symbol:        snap.Symbol,
		Direction:     direction,
		InstantSpread: snap.InstantSpread,
		AvgSpread:     snap.AvgSpread,
		Notional:      d.cfg.NotionalPerTrade,
		Leverage:      d.cfg.Leverage,
		DetectedAt:    time.Now().UTC(),
	}, nil
}

// ShouldClose advises whether an open order has outlived its edge. The
// returned reason is empty when the order should stay open.
func (d *Detector) ShouldClose(order domain.ArbitrageOrder, snap domain.SpreadSnapshot, now time.Time) (bool, string) {
	if snap.Stale {
		return false, ""
	}

	// The entry captured a spread of one sign; a reversal means the legs now
	// pay funding instead of collecting it.
	if order.EntrySpread*snap.InstantSpread < 0 {
		return true, "spread reversed"
	}

	if math.Abs(snap.InstantSpread) < d.cfg.FundingRateThreshold/2 {
		return true, "spread decayed below half threshold"
	}

	if d.cfg.MaxHolding > 0 && now.Sub(order.OpenedAt) > d.cfg.MaxHolding {
		return true, fmt.Sprintf("held longer than %s", d.cfg.MaxHolding)
	}

	return false, ""
}

func (d *Detector) publish(ctx context.Context, opp domain.Opportunity) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(opp)
	if err == nil {
		err = d.bus.Publish(ctx, domain.ChannelOpportunities, payload)
	}
	if err != nil {
		d.logger.Warn("publish opportunity failed",
			slog.String("symbol", opp.Symbol),
			slog.String("error", err.Error()))
	}
}
