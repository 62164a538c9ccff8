package domain

import "time"

// FundingAccrual is one funding payment observed during an order's holding
// interval. Rate sign follows the venue convention: positive means longs pay
// shorts.
type FundingAccrual struct {
	Venue      Venue
	Symbol     string
	Rate       float64
	ObservedAt time.Time
}

// PnLRecord is the realized result of one closed order. Recomputation from
// the same trade and accrual sets always yields an identical record.
type PnLRecord struct {
	OrderID      string
	Symbol       string
	PricePnL     float64
	FundingPnL   float64
	Fees         float64
	NetPnL       float64
	ROI          float64
	HoldingHours float64
	OpenedAt     time.Time
	ClosedAt     time.Time
	ComputedAt   time.Time
}

// PnLSummary aggregates closed-order results over a window.
type PnLSummary struct {
	TotalNetPnL float64
	OrderCount  int64
	WinCount    int64
	AvgROI      float64
}
