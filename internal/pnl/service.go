package pnl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// Service realizes PnL for closed orders: it gathers the order's trades and
// funding history, runs the computation, and persists the record.
type Service struct {
	logger *slog.Logger
	trades domain.TradeStore
	rates  domain.RateStore
	store  domain.PnLStore
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, trades domain.TradeStore, rates domain.RateStore, store domain.PnLStore) *Service {
	return &Service{
		logger: logger.With(slog.String("component", "pnl")),
		trades: trades,
		rates:  rates,
		store:  store,
	}
}

// Realize computes and persists the realized record for a closed (or failed)
// order. Upsert makes it safe to call again for the same order.
func (s *Service) Realize(ctx context.Context, order domain.ArbitrageOrder) (domain.PnLRecord, error) {
	trades, err := s.trades.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.PnLRecord{}, fmt.Errorf("pnl: trades for %s: %w", order.ID, err)
	}

	accruals, err := s.accruals(ctx, order)
	if err != nil {
		return domain.PnLRecord{}, err
	}

	rec := Compute(order, trades, accruals, time.Now().UTC())

	if err := s.store.Upsert(ctx, rec); err != nil {
		return domain.PnLRecord{}, fmt.Errorf("pnl: persist %s: %w", order.ID, err)
	}

	s.logger.Info("pnl realized",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.Float64("price_pnl", rec.PricePnL),
		slog.Float64("funding_pnl", rec.FundingPnL),
		slog.Float64("fees", rec.Fees),
		slog.Float64("net_pnl", rec.NetPnL),
		slog.Float64("roi", rec.ROI))
	return rec, nil
}

// accruals reconstructs the funding payments the order sat through: for each
// leg venue, the latest rate sample at or before every funding boundary in
// the holding interval.
func (s *Service) accruals(ctx context.Context, order domain.ArbitrageOrder) ([]domain.FundingAccrual, error) {
	closedAt := time.Now().UTC()
	if order.ClosedAt != nil {
		closedAt = *order.ClosedAt
	}
	boundaries := Boundaries(order.OpenedAt, closedAt)
	if len(boundaries) == 0 {
		return nil, nil
	}

	var out []domain.FundingAccrual
	for _, leg := range order.Legs {
		samples, err := s.rates.ListRange(ctx, leg.Venue, order.Symbol, order.OpenedAt, closedAt)
		if err != nil {
			return nil, fmt.Errorf("pnl: rate history for %s/%s: %w", leg.Venue, order.Symbol, err)
		}
		for _, b := range boundaries {
			if sample, ok := latestAtOrBefore(samples, b); ok {
				out = append(out, domain.FundingAccrual{
					Venue:      leg.Venue,
					Symbol:     order.Symbol,
					Rate:       sample.FundingRate,
					ObservedAt: b,
				})
			}
		}
	}
	return out, nil
}

// latestAtOrBefore picks the freshest sample not after t. Samples arrive
// ordered by observation time.
func latestAtOrBefore(samples []domain.RateSample, t time.Time) (domain.RateSample, bool) {
	var best domain.RateSample
	var found bool
	for _, s := range samples {
		if s.ObservedAt.After(t) {
			break
		}
		best = s
		found = true
	}
	return best, found
}

// Summary aggregates realized results since the given time.
func (s *Service) Summary(ctx context.Context, since time.Time) (domain.PnLSummary, error) {
	sum, err := s.store.Summary(ctx, since)
	if err != nil {
		return domain.PnLSummary{}, fmt.Errorf("pnl: summary: %w", err)
	}
	return sum, nil
}
