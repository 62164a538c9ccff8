package domain

import "time"

// RateSample is one observation of a venue's funding rate and mark price for
// a symbol. Samples are immutable once taken.
type RateSample struct {
	Venue       Venue
	Symbol      string
	FundingRate float64
	MarkPrice   float64
	ObservedAt  time.Time
}

// SpreadSnapshot is the derived cross-venue view for one symbol at one
// aggregator tick. It is a value hand-off: recomputed on every tick, cached
// for the dashboard, never a source of truth.
type SpreadSnapshot struct {
	Symbol        string
	RateA         float64
	RateB         float64
	MarkPriceA    float64
	MarkPriceB    float64
	InstantSpread float64 // rateA - rateB, last samples only
	AvgSpread     float64 // simple mean of per-sample spreads inside the horizon
	SampleCount   int
	Stale         bool // true when every input is older than the freshness bound
	ObservedAt    time.Time
}

// OpportunityDirection encodes which venue each leg opens on.
type OpportunityDirection string

const (
	// ShortALongB: venue A pays the higher rate, so short A and long B.
	ShortALongB OpportunityDirection = "short_a_long_b"
	// LongAShortB: venue B pays the higher rate, so long A and short B.
	LongAShortB OpportunityDirection = "long_a_short_b"
)

// Opportunity is an actionable spread detected by the detector. It is
// consumed at most once by the execution coordinator and never persisted
// beyond the decision.
type Opportunity struct {
	ID            string
	Symbol        string
	Direction     OpportunityDirection
	InstantSpread float64
	AvgSpread     float64
	Notional      float64 // per leg
	Leverage      int
	DetectedAt    time.Time
}

// SideA returns the market direction of the venue-A leg.
func (o Opportunity) SideA() Side {
	if o.Direction == ShortALongB {
		return SideShort
	}
	return SideLong
}

// SideB returns the market direction of the venue-B leg.
func (o Opportunity) SideB() Side {
	return o.SideA().Opposite()
}
