package domain

import "time"

// TradeAction distinguishes fills that build exposure from fills that
// unwind it.
type TradeAction string

const (
	TradeOpen  TradeAction = "open"
	TradeClose TradeAction = "close"
)

// Trade is one immutable fill record. Trades are append-only and are the
// unit the PnL engine and position ledger operate on. Every fill, however
// partial, is durably recorded before any downstream computation proceeds.
type Trade struct {
	ID           string
	OrderID      string
	Venue        Venue
	Symbol       string
	Side         Side
	Action       TradeAction
	Price        float64
	Notional     float64
	Fee          float64
	VenueOrderID string
	ExecutedAt   time.Time
}

// PositionRecord is the current aggregate exposure on one (venue, symbol),
// derived by folding the trades of open orders on that pair.
type PositionRecord struct {
	Venue         Venue
	Symbol        string
	Side          Side
	NetNotional   float64
	AvgEntryPrice float64
	UpdatedAt     time.Time
}
