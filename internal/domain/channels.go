package domain

import "time"

// Bus channel names. Spread snapshots, opportunities, and order/risk events
// flow out on their own channels; operator commands flow in on one.
const (
	ChannelSpreads       = "spreads"
	ChannelOpportunities = "opportunities"
	ChannelEvents        = "events"
	ChannelCommands      = "commands"
)

// Event is one order or risk occurrence published on ChannelEvents and
// forwarded to notification channels.
type Event struct {
	Type    string    `json:"type"`
	Symbol  string    `json:"symbol,omitempty"`
	OrderID string    `json:"order_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Event types.
const (
	EventOpportunity = "opportunity"
	EventOrderOpened = "order_opened"
	EventOrderClosed = "order_closed"
	EventOrderFailed = "order_failed"
	EventRiskAlert   = "risk_alert"
	EventLowBalance  = "low_balance"
)
