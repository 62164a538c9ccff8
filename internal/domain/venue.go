package domain

import (
	"context"
	"time"
)

// Venue identifies one of the two exchanges the strategy trades on.
type Venue string

// Side is the market direction of a leg or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the inverse market direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// VenueOrderType is the execution style requested from a venue.
type VenueOrderType string

const (
	VenueOrderMarket VenueOrderType = "market"
	VenueOrderLimit  VenueOrderType = "limit"
)

// VenueOrderStatus is the terminal/progress state a venue reports for a
// child order.
type VenueOrderStatus string

const (
	VenueOrderOpen      VenueOrderStatus = "open"
	VenueOrderFilled    VenueOrderStatus = "filled"
	VenueOrderCancelled VenueOrderStatus = "cancelled"
	VenueOrderRejected  VenueOrderStatus = "rejected"
)

// Terminal reports whether the venue will make no further progress on the order.
func (s VenueOrderStatus) Terminal() bool {
	switch s {
	case VenueOrderFilled, VenueOrderCancelled, VenueOrderRejected:
		return true
	}
	return false
}

// OrderFill is the venue's view of a child order's progress.
type OrderFill struct {
	OrderID        string
	FilledNotional float64
	AveragePrice   float64
	Fee            float64
	Status         VenueOrderStatus
}

// VenuePosition is the venue's live view of exposure on one symbol.
type VenuePosition struct {
	Symbol           string
	Side             Side
	Notional         float64
	EntryPrice       float64
	LiquidationPrice float64
	UnrealizedPnL    float64
}

// VenueAdapter is the capability surface each exchange integration must
// provide. Implementations live outside the core (or in venue/paper for
// simulation); venue-specific protocol quirks never leak past this interface.
type VenueAdapter interface {
	Name() Venue

	FundingRate(ctx context.Context, symbol string) (rate float64, asOf time.Time, err error)
	MarkPrice(ctx context.Context, symbol string) (price float64, asOf time.Time, err error)

	PlaceOrder(ctx context.Context, symbol string, side Side, notional float64, typ VenueOrderType) (orderID string, err error)
	OrderStatus(ctx context.Context, orderID string) (OrderFill, error)
	CancelOrder(ctx context.Context, orderID string) error

	Position(ctx context.Context, symbol string) (VenuePosition, error)
	Balance(ctx context.Context) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetStopTakeProfit(ctx context.Context, symbol string, stopPrice, takeProfitPrice float64) error
}

// VenuePair holds the two adapters an order's legs execute against. A is the
// spread's positive side (instant spread = rateA - rateB).
type VenuePair struct {
	A VenueAdapter
	B VenueAdapter
}

// ByName returns the adapter whose Name matches v, or nil.
func (p VenuePair) ByName(v Venue) VenueAdapter {
	switch v {
	case p.A.Name():
		return p.A
	case p.B.Name():
		return p.B
	}
	return nil
}
