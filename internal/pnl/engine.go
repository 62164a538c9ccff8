// Package pnl computes realized results for closed orders from their trades
// and funding history. Computation is pure: the same inputs always produce
// the same record.
package pnl

import (
	"sort"
	"time"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// FundingInterval is the venue funding cadence. Funding accrues once per
// interval boundary the position was held across.
const FundingInterval = 8 * time.Hour

// Compute derives the realized PnL record for one order from its trades and
// the funding accruals observed during the holding interval.
func Compute(order domain.ArbitrageOrder, trades []domain.Trade, accruals []domain.FundingAccrual, now time.Time) domain.PnLRecord {
	closedAt := now
	if order.ClosedAt != nil {
		closedAt = *order.ClosedAt
	}

	rec := domain.PnLRecord{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		OpenedAt:   order.OpenedAt,
		ClosedAt:   closedAt,
		ComputedAt: now,
	}

	sorted := make([]domain.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ExecutedAt.Equal(sorted[j].ExecutedAt) {
			return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	// Held exposure comes from the open fills, not the legs' live counters:
	// by the time a closed order reaches here its legs have been flattened
	// back to zero.
	held := make(map[domain.Venue]float64, 2)
	for _, t := range sorted {
		if t.Action == domain.TradeOpen {
			held[t.Venue] += t.Notional
		}
	}

	for _, leg := range order.Legs {
		rec.PricePnL += legPricePnL(leg, sorted)
	}
	for _, t := range sorted {
		rec.Fees += t.Fee
	}
	for _, acc := range accruals {
		rec.FundingPnL += accrualPnL(order, acc, held[acc.Venue])
	}

	rec.NetPnL = rec.PricePnL + rec.FundingPnL - rec.Fees
	rec.HoldingHours = closedAt.Sub(order.OpenedAt).Hours()

	var committed float64
	for _, n := range held {
		committed += n
	}
	if order.Leverage > 0 {
		if margin := committed / float64(order.Leverage); margin > 0 {
			rec.ROI = rec.NetPnL / margin
		}
	}
	return rec
}

// legPricePnL computes the price component for one venue leg: notional-
// weighted entry versus exit, signed by the leg's market direction.
func legPricePnL(leg domain.Leg, trades []domain.Trade) float64 {
	var openNotional, openValue float64
	var closeNotional, closeValue float64

	for _, t := range trades {
		if t.Venue != leg.Venue {
			continue
		}
		switch t.Action {
		case domain.TradeOpen:
			openNotional += t.Notional
			openValue += t.Notional * t.Price
		case domain.TradeClose:
			closeNotional += t.Notional
			closeValue += t.Notional * t.Price
		}
	}
	if openNotional == 0 || closeNotional == 0 {
		return 0
	}

	avgOpen := openValue / openNotional
	avgClose := closeValue / closeNotional

	// The realized quantity is what actually round-tripped.
	matched := openNotional
	if closeNotional < matched {
		matched = closeNotional
	}

	move := (avgClose - avgOpen) / avgOpen
	if leg.Side == domain.SideShort {
		move = -move
	}
	return move * matched
}

// accrualPnL is one funding payment applied to the held notional on the
// accrual's venue. Positive rates mean longs pay shorts, so a short leg
// collects and a long leg pays.
func accrualPnL(order domain.ArbitrageOrder, acc domain.FundingAccrual, held float64) float64 {
	leg := order.LegByVenue(acc.Venue)
	if leg == nil || held == 0 {
		return 0
	}
	amount := acc.Rate * held
	if leg.Side == domain.SideLong {
		return -amount
	}
	return amount
}

// Boundaries returns the funding boundary instants inside (from, to]. Venues
// pay funding at fixed UTC multiples of the interval.
func Boundaries(from, to time.Time) []time.Time {
	if !to.After(from) {
		return nil
	}
	first := from.Truncate(FundingInterval).Add(FundingInterval)
	var out []time.Time
	for t := first; !t.After(to); t = t.Add(FundingInterval) {
		out = append(out, t)
	}
	return out
}
