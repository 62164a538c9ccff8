package pnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

func closedOrder() domain.ArbitrageOrder {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(24 * time.Hour)
	return domain.ArbitrageOrder{
		ID:     "o1",
		Symbol: "BTCUSDC",
		State:  domain.OrderClosed,
		Legs: [2]domain.Leg{
			{Venue: "lighter", Side: domain.SideShort, TargetNotional: 100, FilledNotional: 100},
			{Venue: "binance", Side: domain.SideLong, TargetNotional: 100, FilledNotional: 100},
		},
		EntrySpread: 0.015,
		Leverage:    4,
		OpenedAt:    opened,
		ClosedAt:    &closed,
	}
}

func roundTrip(orderID string) []domain.Trade {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []domain.Trade{
		{ID: "t1", OrderID: orderID, Venue: "lighter", Symbol: "BTCUSDC", Side: domain.SideShort,
			Action: domain.TradeOpen, Price: 50000, Notional: 100, Fee: 0.02, ExecutedAt: at},
		{ID: "t2", OrderID: orderID, Venue: "binance", Symbol: "BTCUSDC", Side: domain.SideLong,
			Action: domain.TradeOpen, Price: 50000, Notional: 100, Fee: 0.04, ExecutedAt: at},
		{ID: "t3", OrderID: orderID, Venue: "lighter", Symbol: "BTCUSDC", Side: domain.SideLong,
			Action: domain.TradeClose, Price: 49000, Notional: 100, Fee: 0.02, ExecutedAt: at.Add(24 * time.Hour)},
		{ID: "t4", OrderID: orderID, Venue: "binance", Symbol: "BTCUSDC", Side: domain.SideShort,
			Action: domain.TradeClose, Price: 49000, Notional: 100, Fee: 0.04, ExecutedAt: at.Add(24 * time.Hour)},
	}
}

func TestComputeOffsettingLegsCancelPriceMoves(t *testing.T) {
	order := closedOrder()
	rec := Compute(order, roundTrip(order.ID), nil, time.Now().UTC())

	// Short gains 2% of 100, long loses the same.
	assert.InDelta(t, 0.0, rec.PricePnL, 1e-9)
	assert.InDelta(t, 0.12, rec.Fees, 1e-9)
	assert.InDelta(t, -0.12, rec.NetPnL, 1e-9)
	assert.InDelta(t, 24.0, rec.HoldingHours, 1e-9)
}

func TestComputeFundingPnL(t *testing.T) {
	order := closedOrder()
	accruals := []domain.FundingAccrual{
		// Short leg on lighter collects the positive rate.
		{Venue: "lighter", Symbol: "BTCUSDC", Rate: 0.01},
		// Long leg on binance pays its venue's smaller rate.
		{Venue: "binance", Symbol: "BTCUSDC", Rate: 0.002},
	}

	rec := Compute(order, roundTrip(order.ID), accruals, time.Now().UTC())
	// 0.01*100 collected minus 0.002*100 paid.
	assert.InDelta(t, 0.8, rec.FundingPnL, 1e-9)
}

func TestComputeNegativeRatePaysShort(t *testing.T) {
	order := closedOrder()
	accruals := []domain.FundingAccrual{
		{Venue: "lighter", Symbol: "BTCUSDC", Rate: -0.01},
	}

	rec := Compute(order, roundTrip(order.ID), accruals, time.Now().UTC())
	assert.InDelta(t, -1.0, rec.FundingPnL, 1e-9)
}

func TestComputeFundingSurvivesFlattenedLegs(t *testing.T) {
	// A normally closed order arrives with both legs flattened to zero; the
	// funding exposure and ROI margin must come from the open fills.
	order := closedOrder()
	order.Legs[0].FilledNotional = 0
	order.Legs[1].FilledNotional = 0

	accruals := []domain.FundingAccrual{
		{Venue: "lighter", Symbol: "BTCUSDC", Rate: 0.01},
		{Venue: "binance", Symbol: "BTCUSDC", Rate: 0.001},
	}

	rec := Compute(order, roundTrip(order.ID), accruals, time.Now().UTC())
	// Short collects 0.01*100, long pays 0.001*100.
	assert.InDelta(t, 0.9, rec.FundingPnL, 1e-9)
	// Margin = 200 opened / 4x leverage = 50.
	assert.InDelta(t, rec.NetPnL/50.0, rec.ROI, 1e-12)
	assert.NotZero(t, rec.ROI)
}

func TestComputeROIUsesMargin(t *testing.T) {
	order := closedOrder()
	accruals := []domain.FundingAccrual{
		{Venue: "lighter", Symbol: "BTCUSDC", Rate: 0.01},
	}

	rec := Compute(order, roundTrip(order.ID), accruals, time.Now().UTC())
	// Margin = 200 committed / 4x leverage = 50.
	assert.InDelta(t, rec.NetPnL/50.0, rec.ROI, 1e-12)
}

func TestComputeIsDeterministic(t *testing.T) {
	order := closedOrder()
	trades := roundTrip(order.ID)
	accruals := []domain.FundingAccrual{
		{Venue: "lighter", Symbol: "BTCUSDC", Rate: 0.01},
		{Venue: "binance", Symbol: "BTCUSDC", Rate: 0.003},
	}
	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	first := Compute(order, trades, accruals, now)

	// Shuffle trade ordering; the result must not change.
	reversed := []domain.Trade{trades[3], trades[1], trades[2], trades[0]}
	second := Compute(order, reversed, accruals, now)

	assert.Equal(t, first, second)
}

func TestComputePartialUnwind(t *testing.T) {
	order := closedOrder()
	order.Legs[1].FilledNotional = 40

	at := order.OpenedAt
	trades := []domain.Trade{
		{ID: "t1", OrderID: "o1", Venue: "binance", Symbol: "BTCUSDC", Side: domain.SideLong,
			Action: domain.TradeOpen, Price: 50000, Notional: 40, Fee: 0.016, ExecutedAt: at},
		{ID: "t2", OrderID: "o1", Venue: "binance", Symbol: "BTCUSDC", Side: domain.SideShort,
			Action: domain.TradeClose, Price: 50500, Notional: 40, Fee: 0.016, ExecutedAt: at.Add(time.Minute)},
	}

	rec := Compute(order, trades, nil, time.Now().UTC())
	// Long leg closed 1% up on 40 notional.
	assert.InDelta(t, 0.4, rec.PricePnL, 1e-9)
	assert.InDelta(t, 0.032, rec.Fees, 1e-9)
}

func TestBoundaries(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	bs := Boundaries(from, to)
	require.Len(t, bs, 3)
	assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), bs[0])
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), bs[1])
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), bs[2])
}

func TestBoundariesEmptyInterval(t *testing.T) {
	now := time.Now()
	assert.Nil(t, Boundaries(now, now))
	assert.Nil(t, Boundaries(now, now.Add(-time.Hour)))
}
