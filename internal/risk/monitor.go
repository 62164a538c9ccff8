// Package risk watches open orders for liquidation proximity, stop and
// take-profit touches, and leg imbalance, and forces closes when a limit is
// breached. It also watches venue balances.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// Closer flattens a symbol's active order. Satisfied by the executor.
type Closer interface {
	Close(ctx context.Context, symbol, reason string) (domain.PnLRecord, error)
}

// PositionSource exposes the live order view. Satisfied by the ledger.
type PositionSource interface {
	OpenOrders() []domain.ArbitrageOrder
	CurrentImbalance(symbol string) float64
}

// SpreadSource provides spread views for the close advisory. Satisfied by
// the market-data aggregator.
type SpreadSource interface {
	Snapshot(symbol string) (domain.SpreadSnapshot, error)
	MarkPrices(symbol string) (priceA, priceB float64, err error)
}

// Advisor decides whether an open order has lost its edge. Satisfied by the
// detector.
type Advisor interface {
	ShouldClose(order domain.ArbitrageOrder, snap domain.SpreadSnapshot, now time.Time) (bool, string)
}

// ImbalancePolicy reacts to a leg imbalance beyond the maximum. The default
// policy closes the order.
type ImbalancePolicy func(ctx context.Context, m *Monitor, order domain.ArbitrageOrder, imbalance float64)

// Config tunes the monitor.
type Config struct {
	Interval           time.Duration
	MaxImbalance       float64
	LiqSafetyMarginPct float64
	MinBalance         float64
	BalanceInterval    time.Duration
	AutoClose          bool
}

// Monitor runs the periodic risk checks. Checks are ordered by severity:
// liquidation proximity preempts stop/take-profit, which preempts imbalance
// and the close advisory.
type Monitor struct {
	logger    *slog.Logger
	cfg       Config
	venues    domain.VenuePair
	positions PositionSource
	spreads   SpreadSource
	closer    Closer
	advisor   Advisor
	notifier  domain.Notifier
	bus       domain.SignalBus
	policy    ImbalancePolicy

	lowBalance map[domain.Venue]bool
}

// New constructs a Monitor with the default close-on-imbalance policy.
func New(logger *slog.Logger, cfg Config, venues domain.VenuePair, positions PositionSource, spreads SpreadSource, closer Closer, advisor Advisor, notifier domain.Notifier, bus domain.SignalBus) *Monitor {
	return &Monitor{
		logger:     logger.With(slog.String("component", "risk")),
		cfg:        cfg,
		venues:     venues,
		positions:  positions,
		spreads:    spreads,
		closer:     closer,
		advisor:    advisor,
		notifier:   notifier,
		bus:        bus,
		policy:     closeOnImbalance,
		lowBalance: make(map[domain.Venue]bool),
	}
}

// SetImbalancePolicy replaces the reaction to excessive leg imbalance.
func (m *Monitor) SetImbalancePolicy(p ImbalancePolicy) {
	if p != nil {
		m.policy = p
	}
}

// Run executes the check loops until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("risk monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Float64("max_imbalance", m.cfg.MaxImbalance))

	orderTicker := time.NewTicker(m.cfg.Interval)
	defer orderTicker.Stop()
	balanceTicker := time.NewTicker(m.cfg.BalanceInterval)
	defer balanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("risk monitor stopped")
			return ctx.Err()
		case <-orderTicker.C:
			m.CheckOrders(ctx)
		case <-balanceTicker.C:
			m.CheckBalances(ctx)
		}
	}
}

// CheckOrders runs the per-order checks once.
func (m *Monitor) CheckOrders(ctx context.Context) {
	for _, order := range m.positions.OpenOrders() {
		if order.State != domain.OrderOpen {
			continue
		}
		m.checkOrder(ctx, order)
	}
}

func (m *Monitor) checkOrder(ctx context.Context, order domain.ArbitrageOrder) {
	if reason, hit := m.liquidationRisk(ctx, order); hit {
		m.alert(ctx, order.Symbol, reason)
		m.forceClose(ctx, order.Symbol, reason)
		return
	}

	if reason, hit := m.stopTouched(order); hit {
		m.forceClose(ctx, order.Symbol, reason)
		return
	}

	if imb := m.positions.CurrentImbalance(order.Symbol); imb > m.cfg.MaxImbalance {
		m.logger.Warn("leg imbalance exceeds maximum",
			slog.String("symbol", order.Symbol),
			slog.Float64("imbalance", imb),
			slog.Float64("max", m.cfg.MaxImbalance))
		m.alert(ctx, order.Symbol, fmt.Sprintf("imbalance %.2f exceeds %.2f", imb, m.cfg.MaxImbalance))
		m.policy(ctx, m, order, imb)
		return
	}

	if m.cfg.AutoClose && m.advisor != nil {
		snap, err := m.spreads.Snapshot(order.Symbol)
		if err != nil {
			return
		}
		if ok, reason := m.advisor.ShouldClose(order, snap, time.Now().UTC()); ok {
			m.forceClose(ctx, order.Symbol, reason)
		}
	}
}

// liquidationRisk reports whether either leg's mark price sits inside the
// safety margin of its liquidation price.
func (m *Monitor) liquidationRisk(ctx context.Context, order domain.ArbitrageOrder) (string, bool) {
	priceA, priceB, err := m.spreads.MarkPrices(order.Symbol)
	if err != nil {
		return "", false
	}
	marks := map[domain.Venue]float64{
		m.venues.A.Name(): priceA,
		m.venues.B.Name(): priceB,
	}

	for _, leg := range order.Legs {
		if leg.FilledNotional <= 0 {
			continue
		}
		adapter := m.venues.ByName(leg.Venue)
		if adapter == nil {
			continue
		}
		pos, err := adapter.Position(ctx, order.Symbol)
		if err != nil || pos.LiquidationPrice <= 0 {
			continue
		}
		mark := marks[leg.Venue]
		if mark <= 0 {
			continue
		}
		distance := math.Abs(mark-pos.LiquidationPrice) / mark
		if distance < m.cfg.LiqSafetyMarginPct {
			return fmt.Sprintf("liquidation proximity on %s: mark %.2f vs liquidation %.2f", leg.Venue, mark, pos.LiquidationPrice), true
		}
	}
	return "", false
}

// stopTouched reports whether either leg's mark price crossed its stop-loss
// or take-profit level.
func (m *Monitor) stopTouched(order domain.ArbitrageOrder) (string, bool) {
	priceA, priceB, err := m.spreads.MarkPrices(order.Symbol)
	if err != nil {
		return "", false
	}
	marks := map[domain.Venue]float64{
		m.venues.A.Name(): priceA,
		m.venues.B.Name(): priceB,
	}

	for _, leg := range order.Legs {
		if leg.FilledNotional <= 0 {
			continue
		}
		mark := marks[leg.Venue]
		if mark <= 0 {
			continue
		}
		switch leg.Side {
		case domain.SideLong:
			if leg.StopLossPrice > 0 && mark <= leg.StopLossPrice {
				return fmt.Sprintf("stop loss touched on %s at %.2f", leg.Venue, mark), true
			}
			if leg.TakeProfitPrice > 0 && mark >= leg.TakeProfitPrice {
				return fmt.Sprintf("take profit touched on %s at %.2f", leg.Venue, mark), true
			}
		case domain.SideShort:
			if leg.StopLossPrice > 0 && mark >= leg.StopLossPrice {
				return fmt.Sprintf("stop loss touched on %s at %.2f", leg.Venue, mark), true
			}
			if leg.TakeProfitPrice > 0 && mark <= leg.TakeProfitPrice {
				return fmt.Sprintf("take profit touched on %s at %.2f", leg.Venue, mark), true
			}
		}
	}
	return "", false
}

// CheckBalances alerts once per venue when free balance drops under the
// minimum, and clears the latch when it recovers.
func (m *Monitor) CheckBalances(ctx context.Context) {
	for _, adapter := range []domain.VenueAdapter{m.venues.A, m.venues.B} {
		balance, err := adapter.Balance(ctx)
		if err != nil {
			m.logger.Warn("balance check failed",
				slog.String("venue", string(adapter.Name())),
				slog.String("error", err.Error()))
			continue
		}

		venue := adapter.Name()
		if balance < m.cfg.MinBalance {
			if !m.lowBalance[venue] {
				m.lowBalance[venue] = true
				msg := fmt.Sprintf("balance on %s is %.2f, below minimum %.2f", venue, balance, m.cfg.MinBalance)
				m.logger.Warn("low balance", slog.String("venue", string(venue)), slog.Float64("balance", balance))
				m.emit(ctx, domain.EventLowBalance, "", msg)
			}
		} else if m.lowBalance[venue] {
			delete(m.lowBalance, venue)
		}
	}
}

func (m *Monitor) forceClose(ctx context.Context, symbol, reason string) {
	m.logger.Warn("forcing close", slog.String("symbol", symbol), slog.String("reason", reason))
	if _, err := m.closer.Close(ctx, symbol, reason); err != nil {
		m.logger.Error("forced close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
}

func (m *Monitor) alert(ctx context.Context, symbol, detail string) {
	m.emit(ctx, domain.EventRiskAlert, symbol, detail)
}

func (m *Monitor) emit(ctx context.Context, eventType, symbol, detail string) {
	ev := domain.Event{Type: eventType, Symbol: symbol, Detail: detail, At: time.Now().UTC()}
	if m.bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if perr := m.bus.Publish(ctx, domain.ChannelEvents, payload); perr != nil {
				m.logger.Warn("publish event failed", slog.String("error", perr.Error()))
			}
		}
	}
	if m.notifier != nil {
		m.notifier.Notify(ctx, eventType, detail)
	}
}

// closeOnImbalance is the default imbalance reaction: flatten the order and
// let the detector re-enter when the edge still exists.
func closeOnImbalance(ctx context.Context, m *Monitor, order domain.ArbitrageOrder, imbalance float64) {
	m.forceClose(ctx, order.Symbol, fmt.Sprintf("imbalance %.2f exceeds maximum", imbalance))
}
