// Package executor coordinates two-leg order execution: batched opens, stop
// and take-profit placement, idempotent closes, and compensation when one
// leg cannot be completed.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// OrderLedger is the slice of the ledger the executor drives. The ledger
// persists orders and trades; the executor owns the state machine.
type OrderLedger interface {
	Reserve(symbol string) error
	Release(symbol string)
	Register(ctx context.Context, order domain.ArbitrageOrder) error
	UpdateOrder(ctx context.Context, order domain.ArbitrageOrder) error
	RecordTrade(ctx context.Context, trade domain.Trade) error
	Touch(order domain.ArbitrageOrder)
	OpenOrderFor(symbol string) (domain.ArbitrageOrder, bool)
}

// Realizer computes and persists realized PnL for an order that reached a
// terminal state.
type Realizer interface {
	Realize(ctx context.Context, order domain.ArbitrageOrder) (domain.PnLRecord, error)
}

// Config tunes execution behavior.
type Config struct {
	BatchFraction         float64
	MinBatchNotional      float64
	FillTolerance         float64
	MinViableFillFraction float64
	FillPollInterval      time.Duration
	BatchTimeout          time.Duration
	MaxRetries            int
	RetryBackoff          time.Duration
	LockTTL               time.Duration

	StopLossPercent    float64
	TakeProfitPercent  float64
	LiqSafetyMarginPct float64
}

// Executor opens and closes arbitrage orders against the venue pair.
type Executor struct {
	logger   *slog.Logger
	cfg      Config
	venues   domain.VenuePair
	ledger   OrderLedger
	locks    domain.LockManager
	pnl      Realizer
	bus      domain.SignalBus
	notifier domain.Notifier
	audit    domain.AuditStore
}

// New constructs an Executor. Locks, pnl, bus, notifier, and audit may be
// nil; the corresponding step is skipped.
func New(logger *slog.Logger, cfg Config, venues domain.VenuePair, ledger OrderLedger, locks domain.LockManager, pnl Realizer, bus domain.SignalBus, notifier domain.Notifier, audit domain.AuditStore) *Executor {
	return &Executor{
		logger:   logger.With(slog.String("component", "executor")),
		cfg:      cfg,
		venues:   venues,
		ledger:   ledger,
		locks:    locks,
		pnl:      pnl,
		bus:      bus,
		notifier: notifier,
		audit:    audit,
	}
}

// Open executes an opportunity: both legs are built up in batches until each
// reaches its target within tolerance. A failure below the viability
// threshold unwinds whatever filled and marks the order failed.
func (e *Executor) Open(ctx context.Context, opp domain.Opportunity) (domain.ArbitrageOrder, error) {
	if err := e.ledger.Reserve(opp.Symbol); err != nil {
		return domain.ArbitrageOrder{}, err
	}

	unlock, err := e.acquireLock(ctx, opp.Symbol)
	if err != nil {
		e.ledger.Release(opp.Symbol)
		return domain.ArbitrageOrder{}, err
	}
	defer unlock()

	order := domain.ArbitrageOrder{
		ID:     uuid.NewString(),
		Symbol: opp.Symbol,
		State:  domain.OrderPending,
		Legs: [2]domain.Leg{
			{Venue: e.venues.A.Name(), Side: opp.SideA(), TargetNotional: opp.Notional, Status: domain.LegPending},
			{Venue: e.venues.B.Name(), Side: opp.SideB(), TargetNotional: opp.Notional, Status: domain.LegPending},
		},
		EntrySpread: opp.InstantSpread,
		Leverage:    opp.Leverage,
		OpenedAt:    time.Now().UTC(),
	}

	if err := e.ledger.Register(ctx, order); err != nil {
		e.ledger.Release(opp.Symbol)
		return order, err
	}
	// From here the active entry owns the symbol; a terminal update frees it.

	e.logger.Info("opening order",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("direction", string(opp.Direction)),
		slog.Float64("notional", opp.Notional))

	order.State = domain.OrderOpening
	if err := e.ledger.UpdateOrder(ctx, order); err != nil {
		return order, err
	}
	e.auditLog(ctx, "order_opening", map[string]any{"order_id": order.ID, "symbol": order.Symbol})

	if err := e.setLeverage(ctx, order); err != nil {
		// No exposure exists yet, so failing here needs no compensation.
		return e.fail(ctx, order, fmt.Sprintf("set leverage: %v", err))
	}

	if err := e.fillLegs(ctx, &order, domain.TradeOpen); err != nil {
		if e.legsViable(order) {
			e.logger.Warn("open degraded but viable",
				slog.String("order_id", order.ID),
				slog.Float64("filled_a", order.Legs[0].FilledNotional),
				slog.Float64("filled_b", order.Legs[1].FilledNotional),
				slog.String("error", err.Error()))
			e.trimToBalance(ctx, &order)
		} else {
			return e.unwind(ctx, order, fmt.Sprintf("open aborted: %v", err))
		}
	}

	e.applyStops(ctx, &order)

	for i := range order.Legs {
		order.Legs[i].Status = domain.LegFilled
	}
	order.State = domain.OrderOpen
	if err := e.ledger.UpdateOrder(ctx, order); err != nil {
		return order, err
	}

	e.logger.Info("order open",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.Float64("filled_a", order.Legs[0].FilledNotional),
		slog.Float64("filled_b", order.Legs[1].FilledNotional))
	e.emit(ctx, domain.EventOrderOpened, order, "")
	return order, nil
}

// Close flattens the symbol's active order. Closing a symbol with no active
// order is a no-op, which makes retries and duplicate commands safe.
func (e *Executor) Close(ctx context.Context, symbol, reason string) (domain.PnLRecord, error) {
	order, ok := e.ledger.OpenOrderFor(symbol)
	if !ok || order.State.Terminal() {
		return domain.PnLRecord{}, nil
	}

	unlock, err := e.acquireLock(ctx, symbol)
	if err != nil {
		return domain.PnLRecord{}, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent close may have finished.
	order, ok = e.ledger.OpenOrderFor(symbol)
	if !ok || order.State.Terminal() {
		return domain.PnLRecord{}, nil
	}

	e.logger.Info("closing order",
		slog.String("order_id", order.ID),
		slog.String("symbol", symbol),
		slog.String("reason", reason))

	order.State = domain.OrderClosing
	order.Reason = reason
	if err := e.ledger.UpdateOrder(ctx, order); err != nil {
		return domain.PnLRecord{}, err
	}
	e.auditLog(ctx, "order_closing", map[string]any{"order_id": order.ID, "symbol": symbol, "reason": reason})

	if err := e.flattenLegs(ctx, &order); err != nil {
		order.State = domain.OrderFailed
		order.Reason = fmt.Sprintf("close failed: %v", err)
		now := time.Now().UTC()
		order.ClosedAt = &now
		if uerr := e.ledger.UpdateOrder(ctx, order); uerr != nil {
			e.logger.Error("persist failed order", slog.String("error", uerr.Error()))
		}
		e.emit(ctx, domain.EventOrderFailed, order, order.Reason)
		return domain.PnLRecord{}, err
	}

	now := time.Now().UTC()
	order.ClosedAt = &now

	// Realized PnL is written before the order leaves the active set, so a
	// closed order always has its record.
	var rec domain.PnLRecord
	if e.pnl != nil {
		rec, err = e.pnl.Realize(ctx, order)
		if err != nil {
			return domain.PnLRecord{}, fmt.Errorf("executor: realize pnl: %w", err)
		}
	}

	order.State = domain.OrderClosed
	if err := e.ledger.UpdateOrder(ctx, order); err != nil {
		return rec, err
	}

	e.logger.Info("order closed",
		slog.String("order_id", order.ID),
		slog.String("symbol", symbol),
		slog.Float64("net_pnl", rec.NetPnL))
	e.emit(ctx, domain.EventOrderClosed, order, reason)
	return rec, nil
}

// acquireLock takes the cross-process execution lock for a symbol. Without a
// lock manager the in-process ledger reservation is the only guard.
func (e *Executor) acquireLock(ctx context.Context, symbol string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	unlock, err := e.locks.Acquire(ctx, "exec:"+symbol, e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("executor: %q: %w", symbol, domain.ErrExclusivityConflict)
	}
	return unlock, nil
}

func (e *Executor) setLeverage(ctx context.Context, order domain.ArbitrageOrder) error {
	for _, adapter := range []domain.VenueAdapter{e.venues.A, e.venues.B} {
		if err := adapter.SetLeverage(ctx, order.Symbol, order.Leverage); err != nil {
			return fmt.Errorf("executor: %s: %w", adapter.Name(), err)
		}
	}
	return nil
}

// fillLegs drives both legs toward their targets in lockstep batches. Each
// round sizes a batch per leg from its remaining notional, places both child
// orders concurrently, and waits for both before the next round.
func (e *Executor) fillLegs(ctx context.Context, order *domain.ArbitrageOrder, action domain.TradeAction) error {
	for !e.legDone(order.Legs[0]) || !e.legDone(order.Legs[1]) {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := range order.Legs {
			if e.legDone(order.Legs[i]) {
				continue
			}
			leg := &order.Legs[i]
			batch := e.batchSize(leg.Remaining())
			leg.Status = domain.LegFilling

			g.Go(func() error {
				return e.placeBatch(gctx, order, leg, leg.Side, batch, action)
			})
		}
		if err := g.Wait(); err != nil {
			for i := range order.Legs {
				if !e.legDone(order.Legs[i]) {
					order.Legs[i].Status = domain.LegDegraded
				}
			}
			return err
		}

		e.ledger.Touch(*order)
	}
	return nil
}

// legDone reports whether a leg reached its target within tolerance.
func (e *Executor) legDone(leg domain.Leg) bool {
	return leg.FilledNotional >= leg.TargetNotional*(1-e.cfg.FillTolerance)
}

// legsViable reports whether every leg reached the minimum viable fraction of
// its own target. Viability is per leg: a leg far short of target cannot be
// averaged away by the other side, it can only be trimmed against the lesser
// fill, so one starved leg fails the whole open.
func (e *Executor) legsViable(order domain.ArbitrageOrder) bool {
	for _, leg := range order.Legs {
		if leg.TargetNotional <= 0 {
			continue
		}
		if leg.FilledNotional/leg.TargetNotional < e.cfg.MinViableFillFraction {
			return false
		}
	}
	return true
}

// batchSize is the next child-order notional: a fraction of what remains,
// floored at the minimum and capped at the remainder.
func (e *Executor) batchSize(remaining float64) float64 {
	batch := remaining * e.cfg.BatchFraction
	if batch < e.cfg.MinBatchNotional {
		batch = e.cfg.MinBatchNotional
	}
	if batch > remaining {
		batch = remaining
	}
	return batch
}

// placeBatch submits one child order and waits for it to resolve, retrying
// placement while the venue is unavailable. Every observed fill is recorded
// before it counts toward the leg.
func (e *Executor) placeBatch(ctx context.Context, order *domain.ArbitrageOrder, leg *domain.Leg, side domain.Side, notional float64, action domain.TradeAction) error {
	adapter := e.venues.ByName(leg.Venue)
	if adapter == nil {
		return fmt.Errorf("executor: no adapter for venue %q", leg.Venue)
	}

	var venueOrderID string
	var err error
	for attempt := 0; ; attempt++ {
		venueOrderID, err = adapter.PlaceOrder(ctx, order.Symbol, side, notional, domain.VenueOrderMarket)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVenueUnavailable) || attempt >= e.cfg.MaxRetries {
			return fmt.Errorf("executor: place on %s: %w", leg.Venue, err)
		}
		e.logger.Warn("venue unavailable, retrying",
			slog.String("venue", string(leg.Venue)),
			slog.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.RetryBackoff):
		}
	}

	fill, err := e.awaitFill(ctx, adapter, venueOrderID)
	if fill.FilledNotional > 0 {
		trade := domain.Trade{
			ID:           uuid.NewString(),
			OrderID:      order.ID,
			Venue:        leg.Venue,
			Symbol:       order.Symbol,
			Side:         side,
			Action:       action,
			Price:        fill.AveragePrice,
			Notional:     fill.FilledNotional,
			Fee:          fill.Fee,
			VenueOrderID: venueOrderID,
			ExecutedAt:   time.Now().UTC(),
		}
		if rerr := e.ledger.RecordTrade(ctx, trade); rerr != nil {
			return fmt.Errorf("executor: record fill on %s: %w", leg.Venue, rerr)
		}
		e.applyFill(leg, fill, action)
	}
	return err
}

// applyFill folds a venue fill into the leg. Opens build FilledNotional;
// closes reduce it.
func (e *Executor) applyFill(leg *domain.Leg, fill domain.OrderFill, action domain.TradeAction) {
	if action == domain.TradeClose {
		leg.FilledNotional -= fill.FilledNotional
		if leg.FilledNotional < 0 {
			leg.FilledNotional = 0
		}
		return
	}
	total := leg.FilledNotional + fill.FilledNotional
	if total > 0 {
		leg.AvgFillPrice = (leg.AvgFillPrice*leg.FilledNotional + fill.AveragePrice*fill.FilledNotional) / total
	}
	leg.FilledNotional = total
}

// awaitFill polls a child order until it resolves or the batch times out.
// Status-poll failures are retried until the deadline rather than abandoning
// the live child order. At the deadline the order is cancelled on the venue
// first, then the last observed fill is returned with ErrPartialFillTimeout
// (or the status error if the venue never answered).
func (e *Executor) awaitFill(ctx context.Context, adapter domain.VenueAdapter, venueOrderID string) (domain.OrderFill, error) {
	deadline := time.Now().Add(e.cfg.BatchTimeout)
	ticker := time.NewTicker(e.cfg.FillPollInterval)
	defer ticker.Stop()

	var fill domain.OrderFill
	var statusErr error
	for {
		f, err := adapter.OrderStatus(ctx, venueOrderID)
		if err != nil {
			statusErr = err
			e.logger.Warn("status poll failed, retrying",
				slog.String("venue", string(adapter.Name())),
				slog.String("error", err.Error()))
		} else {
			statusErr = nil
			fill = f
			if fill.Status == domain.VenueOrderFilled {
				return fill, nil
			}
			if fill.Status == domain.VenueOrderRejected {
				return fill, fmt.Errorf("executor: %s: %w", adapter.Name(), domain.ErrVenueRejected)
			}
			if fill.Status == domain.VenueOrderCancelled {
				return fill, fmt.Errorf("executor: %s cancelled order: %w", adapter.Name(), domain.ErrPartialFillTimeout)
			}
		}

		if time.Now().After(deadline) {
			if cerr := adapter.CancelOrder(ctx, venueOrderID); cerr != nil {
				e.logger.Warn("cancel after timeout failed",
					slog.String("venue", string(adapter.Name())),
					slog.String("error", cerr.Error()))
			}
			if final, serr := adapter.OrderStatus(ctx, venueOrderID); serr == nil {
				fill = final
				statusErr = nil
			}
			if statusErr != nil {
				return fill, fmt.Errorf("executor: status on %s: %w", adapter.Name(), statusErr)
			}
			return fill, fmt.Errorf("executor: %s: %w", adapter.Name(), domain.ErrPartialFillTimeout)
		}

		select {
		case <-ctx.Done():
			// Shutdown must not strand the child order on the venue.
			if cerr := adapter.CancelOrder(context.WithoutCancel(ctx), venueOrderID); cerr != nil {
				e.logger.Warn("cancel on shutdown failed",
					slog.String("venue", string(adapter.Name())),
					slog.String("error", cerr.Error()))
			}
			return fill, ctx.Err()
		case <-ticker.C:
		}
	}
}

// trimToBalance flattens the overfilled leg down to the lesser leg so both
// sides carry equal exposure, then shrinks the targets to match.
func (e *Executor) trimToBalance(ctx context.Context, order *domain.ArbitrageOrder) {
	lesser := order.Legs[0].FilledNotional
	if order.Legs[1].FilledNotional < lesser {
		lesser = order.Legs[1].FilledNotional
	}

	for i := range order.Legs {
		leg := &order.Legs[i]
		excess := leg.FilledNotional - lesser
		if excess > 0 {
			if err := e.placeBatch(ctx, order, leg, leg.Side.Opposite(), excess, domain.TradeClose); err != nil {
				e.logger.Error("trim excess failed",
					slog.String("order_id", order.ID),
					slog.String("venue", string(leg.Venue)),
					slog.String("error", err.Error()))
			}
		}
		leg.TargetNotional = leg.FilledNotional
	}
}

// flattenLegs unwinds both legs' remaining exposure in batches.
func (e *Executor) flattenLegs(ctx context.Context, order *domain.ArbitrageOrder) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range order.Legs {
		leg := &order.Legs[i]
		if leg.FilledNotional <= 0 {
			leg.Status = domain.LegFlat
			continue
		}
		g.Go(func() error {
			for leg.FilledNotional > 0 {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch := e.batchSize(leg.FilledNotional)
				if err := e.placeBatch(gctx, order, leg, leg.Side.Opposite(), batch, domain.TradeClose); err != nil {
					leg.Status = domain.LegDegraded
					return err
				}
			}
			leg.Status = domain.LegFlat
			return nil
		})
	}
	return g.Wait()
}

// unwind is the compensation path for a non-viable open: whatever filled is
// closed out and the order is marked failed.
func (e *Executor) unwind(ctx context.Context, order domain.ArbitrageOrder, reason string) (domain.ArbitrageOrder, error) {
	e.logger.Warn("unwinding order",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.Float64("filled_a", order.Legs[0].FilledNotional),
		slog.Float64("filled_b", order.Legs[1].FilledNotional),
		slog.String("reason", reason))
	e.auditLog(ctx, "order_unwind", map[string]any{"order_id": order.ID, "reason": reason})

	if err := e.flattenLegs(ctx, &order); err != nil {
		e.logger.Error("unwind incomplete, manual intervention may be required",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
	}
	return e.fail(ctx, order, reason)
}

// fail marks the order failed, realizes whatever PnL the partial activity
// produced, and persists the terminal state.
func (e *Executor) fail(ctx context.Context, order domain.ArbitrageOrder, reason string) (domain.ArbitrageOrder, error) {
	now := time.Now().UTC()
	order.State = domain.OrderFailed
	order.Reason = reason
	order.ClosedAt = &now

	if e.pnl != nil {
		if _, err := e.pnl.Realize(ctx, order); err != nil {
			e.logger.Error("realize pnl for failed order",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()))
		}
	}

	if err := e.ledger.UpdateOrder(ctx, order); err != nil {
		return order, err
	}
	e.emit(ctx, domain.EventOrderFailed, order, reason)
	return order, fmt.Errorf("executor: order %s failed: %s", order.ID, reason)
}

// applyStops computes per-leg stop-loss and take-profit prices from the
// average entry and registers them with the venues. The stop distance is the
// configured loss on margin, so it scales down with leverage, and is clamped
// inside the liquidation price by the safety margin.
func (e *Executor) applyStops(ctx context.Context, order *domain.ArbitrageOrder) {
	for i := range order.Legs {
		leg := &order.Legs[i]
		if leg.FilledNotional <= 0 || leg.AvgFillPrice <= 0 {
			continue
		}
		adapter := e.venues.ByName(leg.Venue)
		if adapter == nil {
			continue
		}

		lev := float64(order.Leverage)
		if lev < 1 {
			lev = 1
		}
		slMove := leg.AvgFillPrice * e.cfg.StopLossPercent / lev
		tpMove := leg.AvgFillPrice * e.cfg.TakeProfitPercent / lev

		var stop, take float64
		if leg.Side == domain.SideLong {
			stop = leg.AvgFillPrice - slMove
			take = leg.AvgFillPrice + tpMove
		} else {
			stop = leg.AvgFillPrice + slMove
			take = leg.AvgFillPrice - tpMove
		}

		if pos, err := adapter.Position(ctx, order.Symbol); err == nil && pos.LiquidationPrice > 0 {
			buffer := pos.LiquidationPrice * e.cfg.LiqSafetyMarginPct
			if leg.Side == domain.SideLong && stop < pos.LiquidationPrice+buffer {
				stop = pos.LiquidationPrice + buffer
			}
			if leg.Side == domain.SideShort && stop > pos.LiquidationPrice-buffer {
				stop = pos.LiquidationPrice - buffer
			}
		}

		leg.StopLossPrice = stop
		leg.TakeProfitPrice = take
		if err := adapter.SetStopTakeProfit(ctx, order.Symbol, stop, take); err != nil {
			e.logger.Warn("set stop/take-profit failed",
				slog.String("venue", string(leg.Venue)),
				slog.String("symbol", order.Symbol),
				slog.String("error", err.Error()))
		}
	}
}

// emit publishes an order event and forwards it to the notifier.
func (e *Executor) emit(ctx context.Context, eventType string, order domain.ArbitrageOrder, detail string) {
	ev := domain.Event{
		Type:    eventType,
		Symbol:  order.Symbol,
		OrderID: order.ID,
		Detail:  detail,
		At:      time.Now().UTC(),
	}
	if e.bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if perr := e.bus.Publish(ctx, domain.ChannelEvents, payload); perr != nil {
				e.logger.Warn("publish event failed", slog.String("error", perr.Error()))
			}
		}
	}
	if e.notifier != nil {
		msg := fmt.Sprintf("%s %s order %s", eventType, order.Symbol, order.ID)
		if detail != "" {
			msg += ": " + detail
		}
		e.notifier.Notify(ctx, eventType, msg)
	}
}

func (e *Executor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
