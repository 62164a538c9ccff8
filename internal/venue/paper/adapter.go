// Package paper implements an in-process venue adapter that simulates fills,
// slippage, and funding against configured market values. It backs paper mode
// and the execution tests.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// Options configures a simulated venue.
type Options struct {
	Name         domain.Venue
	Balance      float64
	TakerFeeRate float64 // fee as a fraction of filled notional
	SlippageBps  float64 // applied against the taker on every fill
	FillFraction float64 // fraction of requested notional that fills (1 = full)
	FillDelay    time.Duration
}

// order is the simulated venue-side state of one child order.
type order struct {
	id       string
	symbol   string
	side     domain.Side
	notional float64
	price    float64
	placedAt time.Time

	cancelled bool
	applied   bool // fill already folded into the position
}

// Adapter is a simulated exchange. All state lives in memory; methods are
// safe for concurrent use.
type Adapter struct {
	opts Options

	mu        sync.Mutex
	rates     map[string]float64
	prices    map[string]float64
	orders    map[string]*order
	positions map[string]domain.VenuePosition
	leverage  map[string]int
	stops     map[string][2]float64
	balance   float64
	failErr   error
	rejectErr error
}

var _ domain.VenueAdapter = (*Adapter)(nil)

// New constructs a simulated venue. FillFraction defaults to 1 when zero.
func New(opts Options) *Adapter {
	if opts.FillFraction == 0 {
		opts.FillFraction = 1
	}
	return &Adapter{
		opts:      opts,
		rates:     make(map[string]float64),
		prices:    make(map[string]float64),
		orders:    make(map[string]*order),
		positions: make(map[string]domain.VenuePosition),
		leverage:  make(map[string]int),
		stops:     make(map[string][2]float64),
		balance:   opts.Balance,
	}
}

func (a *Adapter) Name() domain.Venue { return a.opts.Name }

// SetFundingRate sets the funding rate the adapter reports for a symbol.
func (a *Adapter) SetFundingRate(symbol string, rate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rates[symbol] = rate
}

// SetMarkPrice sets the mark price the adapter reports for a symbol.
func (a *Adapter) SetMarkPrice(symbol string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[symbol] = price
}

// SetFillFraction changes how much of each subsequent order fills.
func (a *Adapter) SetFillFraction(f float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.FillFraction = f
}

// FailWith makes every subsequent call return err until cleared with nil.
func (a *Adapter) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = err
}

// RejectOrders makes PlaceOrder return err until cleared with nil.
func (a *Adapter) RejectOrders(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectErr = err
}

func (a *Adapter) FundingRate(ctx context.Context, symbol string) (float64, time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return 0, time.Time{}, a.failErr
	}
	rate, ok := a.rates[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("paper: %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	return rate, time.Now().UTC(), nil
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return 0, time.Time{}, a.failErr
	}
	price, ok := a.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("paper: %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	return price, time.Now().UTC(), nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, symbol string, side domain.Side, notional float64, typ domain.VenueOrderType) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return "", a.failErr
	}
	if a.rejectErr != nil {
		return "", a.rejectErr
	}
	price, ok := a.prices[symbol]
	if !ok {
		return "", fmt.Errorf("paper: %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	if notional <= 0 {
		return "", fmt.Errorf("paper: notional %g: %w", notional, domain.ErrVenueRejected)
	}

	o := &order{
		id:       uuid.NewString(),
		symbol:   symbol,
		side:     side,
		notional: notional,
		price:    a.fillPrice(price, side),
		placedAt: time.Now(),
	}
	a.orders[o.id] = o
	return o.id, nil
}

// fillPrice applies slippage against the taker.
func (a *Adapter) fillPrice(mark float64, side domain.Side) float64 {
	slip := mark * a.opts.SlippageBps / 10000
	if side == domain.SideLong {
		return mark + slip
	}
	return mark - slip
}

func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (domain.OrderFill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return domain.OrderFill{}, a.failErr
	}
	o, ok := a.orders[orderID]
	if !ok {
		return domain.OrderFill{}, fmt.Errorf("paper: order %q: %w", orderID, domain.ErrNotFound)
	}

	fill := domain.OrderFill{OrderID: o.id, Status: domain.VenueOrderOpen}
	if o.cancelled {
		fill.Status = domain.VenueOrderCancelled
	}
	if time.Since(o.placedAt) < a.opts.FillDelay && !o.cancelled {
		return fill, nil
	}

	fill.FilledNotional = o.notional * a.opts.FillFraction
	fill.AveragePrice = o.price
	fill.Fee = fill.FilledNotional * a.opts.TakerFeeRate
	if !o.cancelled && a.opts.FillFraction >= 1 {
		fill.Status = domain.VenueOrderFilled
	}

	if fill.FilledNotional > 0 && !o.applied {
		a.applyFill(o, fill)
		o.applied = true
	}
	return fill, nil
}

// applyFill folds a fill into the symbol's net position. Caller holds a.mu.
func (a *Adapter) applyFill(o *order, fill domain.OrderFill) {
	pos := a.positions[o.symbol]
	a.balance -= fill.Fee

	if pos.Notional == 0 {
		pos = domain.VenuePosition{
			Symbol:     o.symbol,
			Side:       o.side,
			Notional:   fill.FilledNotional,
			EntryPrice: fill.AveragePrice,
		}
	} else if pos.Side == o.side {
		total := pos.Notional + fill.FilledNotional
		pos.EntryPrice = (pos.EntryPrice*pos.Notional + fill.AveragePrice*fill.FilledNotional) / total
		pos.Notional = total
	} else {
		pos.Notional -= fill.FilledNotional
		if pos.Notional < 0 {
			pos.Side = o.side
			pos.Notional = -pos.Notional
			pos.EntryPrice = fill.AveragePrice
		}
		if pos.Notional == 0 {
			pos = domain.VenuePosition{Symbol: o.symbol}
		}
	}

	if pos.Notional > 0 {
		pos.LiquidationPrice = a.liquidationPrice(o.symbol, pos)
	} else {
		pos.LiquidationPrice = 0
	}
	a.positions[o.symbol] = pos
}

// liquidationPrice approximates the price at which margin is exhausted for
// the configured leverage. Caller holds a.mu.
func (a *Adapter) liquidationPrice(symbol string, pos domain.VenuePosition) float64 {
	lev := a.leverage[symbol]
	if lev < 1 {
		lev = 1
	}
	move := pos.EntryPrice / float64(lev)
	if pos.Side == domain.SideLong {
		return pos.EntryPrice - move
	}
	return pos.EntryPrice + move
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	o, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: order %q: %w", orderID, domain.ErrNotFound)
	}
	o.cancelled = true
	return nil
}

func (a *Adapter) Position(ctx context.Context, symbol string) (domain.VenuePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return domain.VenuePosition{}, a.failErr
	}
	pos := a.positions[symbol]
	if pos.Symbol == "" {
		pos.Symbol = symbol
	}
	if pos.Notional > 0 {
		if mark, ok := a.prices[symbol]; ok {
			diff := mark - pos.EntryPrice
			if pos.Side == domain.SideShort {
				diff = -diff
			}
			pos.UnrealizedPnL = diff / pos.EntryPrice * pos.Notional
		}
	}
	return pos, nil
}

func (a *Adapter) Balance(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return 0, a.failErr
	}
	return a.balance, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	if leverage < 1 {
		return fmt.Errorf("paper: leverage %d: %w", leverage, domain.ErrVenueRejected)
	}
	a.leverage[symbol] = leverage
	return nil
}

func (a *Adapter) SetStopTakeProfit(ctx context.Context, symbol string, stopPrice, takeProfitPrice float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.stops[symbol] = [2]float64{stopPrice, takeProfitPrice}
	return nil
}

// StopTakeProfit reports the last stop/take-profit prices set for a symbol.
func (a *Adapter) StopTakeProfit(symbol string) (stopPrice, takeProfitPrice float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.stops[symbol]
	return v[0], v[1], ok
}
