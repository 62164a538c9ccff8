package domain

import "time"

// OrderState tracks the lifecycle of an arbitrage order.
//
//	PENDING → OPENING → OPEN → CLOSING → CLOSED
//
// FAILED is reachable from OPENING and CLOSING.
type OrderState string

const (
	OrderPending OrderState = "pending"
	OrderOpening OrderState = "opening"
	OrderOpen    OrderState = "open"
	OrderClosing OrderState = "closing"
	OrderClosed  OrderState = "closed"
	OrderFailed  OrderState = "failed"
)

// Terminal reports whether the order can make no further transitions.
func (s OrderState) Terminal() bool {
	return s == OrderClosed || s == OrderFailed
}

// Active reports whether the order still holds (or is building) exposure.
func (s OrderState) Active() bool {
	switch s {
	case OrderOpening, OrderOpen, OrderClosing:
		return true
	}
	return false
}

// LegStatus tracks one venue-side half of an order.
type LegStatus string

const (
	LegPending  LegStatus = "pending"
	LegFilling  LegStatus = "filling"
	LegFilled   LegStatus = "filled"
	LegDegraded LegStatus = "degraded" // halted inside its retry/timeout budget
	LegFlat     LegStatus = "flat"     // closed back to zero exposure
)

// Leg is one venue-side half of an ArbitrageOrder. A leg is never shared
// across orders.
type Leg struct {
	Venue           Venue
	Side            Side
	TargetNotional  float64
	FilledNotional  float64
	AvgFillPrice    float64
	StopLossPrice   float64
	TakeProfitPrice float64
	Status          LegStatus
}

// Remaining is the notional still to fill toward the leg's target.
func (l Leg) Remaining() float64 {
	if r := l.TargetNotional - l.FilledNotional; r > 0 {
		return r
	}
	return 0
}

// ArbitrageOrder is the unit of work for one open/close action: two legs of
// equal absolute notional in opposite market directions. It is owned by the
// execution coordinator while active and read-only afterward except for
// closure updates.
type ArbitrageOrder struct {
	ID          string
	Symbol      string
	State       OrderState
	Legs        [2]Leg // [0] = venue A, [1] = venue B
	EntrySpread float64
	Leverage    int
	Reason      string // why the order was closed or failed, empty otherwise
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// LegByVenue returns a pointer to the leg executing on v, or nil.
func (o *ArbitrageOrder) LegByVenue(v Venue) *Leg {
	for i := range o.Legs {
		if o.Legs[i].Venue == v {
			return &o.Legs[i]
		}
	}
	return nil
}

// FilledImbalance is |filledA - filledB|, the notional mismatch between the
// two legs as currently filled.
func (o *ArbitrageOrder) FilledImbalance() float64 {
	d := o.Legs[0].FilledNotional - o.Legs[1].FilledNotional
	if d < 0 {
		return -d
	}
	return d
}

// CommittedNotional is the live notional across both legs. Zero once a
// closed order has been flattened; ROI denominators come from the open
// trades instead.
func (o *ArbitrageOrder) CommittedNotional() float64 {
	return o.Legs[0].FilledNotional + o.Legs[1].FilledNotional
}
