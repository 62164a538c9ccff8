// Package ledger tracks active arbitrage orders and per-venue positions. It
// enforces per-symbol exclusivity inside the process and mirrors every order
// and fill into the durable stores.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

type posKey struct {
	venue  domain.Venue
	symbol string
}

// Ledger is the in-memory system of record for live exposure. The durable
// stores back it; on restart Restore rebuilds the live view from them.
type Ledger struct {
	logger *slog.Logger
	orders domain.OrderStore
	trades domain.TradeStore

	mu        sync.Mutex
	active    map[string]domain.ArbitrageOrder // keyed by symbol
	reserved  map[string]bool                  // symbols mid-open, before the order exists
	positions map[posKey]domain.PositionRecord
}

// New constructs a Ledger backed by the given stores.
func New(logger *slog.Logger, orders domain.OrderStore, trades domain.TradeStore) *Ledger {
	return &Ledger{
		logger:    logger.With(slog.String("component", "ledger")),
		orders:    orders,
		trades:    trades,
		active:    make(map[string]domain.ArbitrageOrder),
		reserved:  make(map[string]bool),
		positions: make(map[posKey]domain.PositionRecord),
	}
}

// Restore rebuilds the live view from the stores after a restart: every
// non-terminal order becomes active again and its trades are folded back
// into positions.
func (l *Ledger) Restore(ctx context.Context) error {
	orders, err := l.orders.ListByState(ctx, domain.OrderOpening, domain.OrderOpen, domain.OrderClosing)
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range orders {
		l.active[o.Symbol] = o

		trades, err := l.trades.ListByOrder(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("ledger: restore trades for %s: %w", o.ID, err)
		}
		for _, t := range trades {
			l.foldLocked(t)
		}
	}

	l.logger.Info("ledger restored", slog.Int("active_orders", len(orders)))
	return nil
}

// Reserve claims the symbol for a new order. It fails with
// ErrExclusivityConflict while another order is active or mid-open on the
// same symbol. The caller must Release on failure paths that never reach
// Register.
func (l *Ledger) Reserve(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserved[symbol] {
		return fmt.Errorf("ledger: %q: %w", symbol, domain.ErrExclusivityConflict)
	}
	if o, ok := l.active[symbol]; ok && o.State.Active() {
		return fmt.Errorf("ledger: %q: %w", symbol, domain.ErrExclusivityConflict)
	}
	l.reserved[symbol] = true
	return nil
}

// Release frees a reservation made by Reserve.
func (l *Ledger) Release(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, symbol)
}

// Register persists a new order and promotes the symbol's reservation into
// an active entry.
func (l *Ledger) Register(ctx context.Context, order domain.ArbitrageOrder) error {
	if err := l.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("ledger: register: %w", err)
	}

	l.mu.Lock()
	l.active[order.Symbol] = order
	delete(l.reserved, order.Symbol)
	l.mu.Unlock()
	return nil
}

// UpdateOrder persists the order's current state and refreshes the live
// view. Terminal orders leave the active set and their positions are
// cleared.
func (l *Ledger) UpdateOrder(ctx context.Context, order domain.ArbitrageOrder) error {
	if err := l.orders.Update(ctx, order); err != nil {
		return fmt.Errorf("ledger: update: %w", err)
	}

	l.mu.Lock()
	if order.State.Terminal() {
		delete(l.active, order.Symbol)
		for _, leg := range order.Legs {
			delete(l.positions, posKey{venue: leg.Venue, symbol: order.Symbol})
		}
	} else {
		l.active[order.Symbol] = order
	}
	l.mu.Unlock()
	return nil
}

// RecordTrade durably appends one fill and folds it into the position view.
// The insert happens first; a fill that cannot be recorded is an error the
// caller must handle before proceeding.
func (l *Ledger) RecordTrade(ctx context.Context, trade domain.Trade) error {
	if err := l.trades.Insert(ctx, trade); err != nil {
		return fmt.Errorf("ledger: record trade: %w", err)
	}

	l.mu.Lock()
	l.foldLocked(trade)
	l.mu.Unlock()
	return nil
}

// foldLocked applies a trade to the (venue, symbol) position. Caller holds
// l.mu.
func (l *Ledger) foldLocked(t domain.Trade) {
	key := posKey{venue: t.Venue, symbol: t.Symbol}
	pos := l.positions[key]
	pos.Venue = t.Venue
	pos.Symbol = t.Symbol
	pos.UpdatedAt = t.ExecutedAt

	switch t.Action {
	case domain.TradeOpen:
		if pos.NetNotional == 0 {
			pos.Side = t.Side
			pos.NetNotional = t.Notional
			pos.AvgEntryPrice = t.Price
		} else {
			total := pos.NetNotional + t.Notional
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.NetNotional + t.Price*t.Notional) / total
			pos.NetNotional = total
		}
	case domain.TradeClose:
		pos.NetNotional -= t.Notional
		if pos.NetNotional <= 0 {
			delete(l.positions, key)
			return
		}
	}
	l.positions[key] = pos
}

// HasActiveOrder reports whether the symbol has an active or mid-open order.
func (l *Ledger) HasActiveOrder(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved[symbol] {
		return true
	}
	o, ok := l.active[symbol]
	return ok && o.State.Active()
}

// OpenOrderFor returns the active order on a symbol, if any.
func (l *Ledger) OpenOrderFor(symbol string) (domain.ArbitrageOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.active[symbol]
	return o, ok
}

// OpenOrderByID returns the active order with the given id, if any. Close
// commands may address an order directly instead of its symbol.
func (l *Ledger) OpenOrderByID(id string) (domain.ArbitrageOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.active {
		if o.ID == id {
			return o, true
		}
	}
	return domain.ArbitrageOrder{}, false
}

// OpenOrders returns all active orders.
func (l *Ledger) OpenOrders() []domain.ArbitrageOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ArbitrageOrder, 0, len(l.active))
	for _, o := range l.active {
		out = append(out, o)
	}
	return out
}

// AggregateNotional is the per-leg notional committed across all active
// orders, the quantity bounded by the aggregate position limit.
func (l *Ledger) AggregateNotional() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, o := range l.active {
		n := o.Legs[0].TargetNotional
		if o.Legs[1].TargetNotional > n {
			n = o.Legs[1].TargetNotional
		}
		sum += n
	}
	return sum
}

// CurrentImbalance is the filled-notional mismatch between the two legs of
// the symbol's active order, zero when no order is active.
func (l *Ledger) CurrentImbalance(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.active[symbol]
	if !ok {
		return 0
	}
	return o.FilledImbalance()
}

// Positions returns the current per-venue position records.
func (l *Ledger) Positions() []domain.PositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PositionRecord, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// Position returns the record for one (venue, symbol), if any exposure
// exists.
func (l *Ledger) Position(venue domain.Venue, symbol string) (domain.PositionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[posKey{venue: venue, symbol: symbol}]
	return p, ok
}

// Touch refreshes an active order's in-memory copy without persisting, used
// for fill-progress visibility between durable updates.
func (l *Ledger) Touch(order domain.ArbitrageOrder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[order.Symbol]; ok {
		l.active[order.Symbol] = order
	}
}
