package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// memOrderStore is an in-memory OrderStore for tests.
type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.ArbitrageOrder
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]domain.ArbitrageOrder)}
}

func (s *memOrderStore) Create(_ context.Context, o domain.ArbitrageOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.orders[o.ID] = o
	return nil
}

func (s *memOrderStore) Update(_ context.Context, o domain.ArbitrageOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.orders[o.ID] = o
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (domain.ArbitrageOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ArbitrageOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) ListByState(_ context.Context, states ...domain.OrderState) ([]domain.ArbitrageOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ArbitrageOrder
	for _, o := range s.orders {
		for _, st := range states {
			if o.State == st {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (s *memOrderStore) ListHistory(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.ArbitrageOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ArbitrageOrder
	for _, o := range s.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListBefore(_ context.Context, before time.Time) ([]domain.ArbitrageOrder, error) {
	return nil, nil
}

// memTradeStore is an in-memory TradeStore for tests.
type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTradeStore) ListByOrder(_ context.Context, orderID string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newTestLedger() (*Ledger, *memOrderStore, *memTradeStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orders := newMemOrderStore()
	trades := &memTradeStore{}
	return New(logger, orders, trades), orders, trades
}

func openingOrder(id, symbol string) domain.ArbitrageOrder {
	return domain.ArbitrageOrder{
		ID:     id,
		Symbol: symbol,
		State:  domain.OrderOpening,
		Legs: [2]domain.Leg{
			{Venue: "lighter", Side: domain.SideShort, TargetNotional: 100, Status: domain.LegPending},
			{Venue: "binance", Side: domain.SideLong, TargetNotional: 100, Status: domain.LegPending},
		},
		EntrySpread: 0.015,
		Leverage:    3,
		OpenedAt:    time.Now(),
	}
}

func TestReserveExclusivity(t *testing.T) {
	l, _, _ := newTestLedger()

	require.NoError(t, l.Reserve("BTCUSDC"))
	err := l.Reserve("BTCUSDC")
	require.ErrorIs(t, err, domain.ErrExclusivityConflict)

	// Other symbols are unaffected.
	require.NoError(t, l.Reserve("ETHUSDC"))

	l.Release("BTCUSDC")
	require.NoError(t, l.Reserve("BTCUSDC"))
}

func TestReserveBlocksWhileOrderActive(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Reserve("BTCUSDC"))
	require.NoError(t, l.Register(ctx, openingOrder("o1", "BTCUSDC")))

	// Registration consumed the reservation but the order is active.
	err := l.Reserve("BTCUSDC")
	require.ErrorIs(t, err, domain.ErrExclusivityConflict)
	assert.True(t, l.HasActiveOrder("BTCUSDC"))
}

func TestTerminalOrderFreesSymbol(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Reserve("BTCUSDC"))
	o := openingOrder("o1", "BTCUSDC")
	require.NoError(t, l.Register(ctx, o))

	o.State = domain.OrderFailed
	o.Reason = "unwound"
	require.NoError(t, l.UpdateOrder(ctx, o))

	assert.False(t, l.HasActiveOrder("BTCUSDC"))
	require.NoError(t, l.Reserve("BTCUSDC"))
}

func TestOpenOrderByID(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Reserve("BTCUSDC"))
	o := openingOrder("o1", "BTCUSDC")
	require.NoError(t, l.Register(ctx, o))

	got, ok := l.OpenOrderByID("o1")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDC", got.Symbol)

	_, ok = l.OpenOrderByID("nope")
	assert.False(t, ok)

	// Terminal orders are no longer addressable.
	o.State = domain.OrderClosed
	require.NoError(t, l.UpdateOrder(ctx, o))
	_, ok = l.OpenOrderByID("o1")
	assert.False(t, ok)
}

func TestAggregateNotional(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Reserve("BTCUSDC"))
	require.NoError(t, l.Register(ctx, openingOrder("o1", "BTCUSDC")))
	require.NoError(t, l.Reserve("ETHUSDC"))
	require.NoError(t, l.Register(ctx, openingOrder("o2", "ETHUSDC")))

	assert.Equal(t, 200.0, l.AggregateNotional())
}

func TestRecordTradeFoldsPositions(t *testing.T) {
	l, _, trades := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.RecordTrade(ctx, domain.Trade{
		ID: "t1", OrderID: "o1", Venue: "lighter", Symbol: "BTCUSDC",
		Side: domain.SideShort, Action: domain.TradeOpen,
		Price: 50000, Notional: 60, ExecutedAt: time.Now(),
	}))
	require.NoError(t, l.RecordTrade(ctx, domain.Trade{
		ID: "t2", OrderID: "o1", Venue: "lighter", Symbol: "BTCUSDC",
		Side: domain.SideShort, Action: domain.TradeOpen,
		Price: 50100, Notional: 40, ExecutedAt: time.Now(),
	}))

	pos, ok := l.Position("lighter", "BTCUSDC")
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.Equal(t, 100.0, pos.NetNotional)
	assert.InDelta(t, 50040.0, pos.AvgEntryPrice, 1e-9)
	assert.Len(t, trades.trades, 2)
}

func TestRecordTradeCloseClearsPosition(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.RecordTrade(ctx, domain.Trade{
		ID: "t1", OrderID: "o1", Venue: "binance", Symbol: "BTCUSDC",
		Side: domain.SideLong, Action: domain.TradeOpen,
		Price: 50000, Notional: 100, ExecutedAt: time.Now(),
	}))
	require.NoError(t, l.RecordTrade(ctx, domain.Trade{
		ID: "t2", OrderID: "o1", Venue: "binance", Symbol: "BTCUSDC",
		Side: domain.SideShort, Action: domain.TradeClose,
		Price: 50500, Notional: 100, ExecutedAt: time.Now(),
	}))

	_, ok := l.Position("binance", "BTCUSDC")
	assert.False(t, ok)
}

func TestCurrentImbalance(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Reserve("BTCUSDC"))
	o := openingOrder("o1", "BTCUSDC")
	o.Legs[0].FilledNotional = 100
	o.Legs[1].FilledNotional = 40
	require.NoError(t, l.Register(ctx, o))

	assert.Equal(t, 60.0, l.CurrentImbalance("BTCUSDC"))
	assert.Equal(t, 0.0, l.CurrentImbalance("ETHUSDC"))
}

func TestRestoreRebuildsActiveOrders(t *testing.T) {
	l, orders, trades := newTestLedger()
	ctx := context.Background()

	o := openingOrder("o1", "BTCUSDC")
	o.State = domain.OrderOpen
	require.NoError(t, orders.Create(ctx, o))

	closed := openingOrder("o2", "ETHUSDC")
	closed.State = domain.OrderClosed
	require.NoError(t, orders.Create(ctx, closed))

	require.NoError(t, trades.Insert(ctx, domain.Trade{
		ID: "t1", OrderID: "o1", Venue: "lighter", Symbol: "BTCUSDC",
		Side: domain.SideShort, Action: domain.TradeOpen,
		Price: 50000, Notional: 100, ExecutedAt: time.Now(),
	}))

	require.NoError(t, l.Restore(ctx))

	assert.True(t, l.HasActiveOrder("BTCUSDC"))
	assert.False(t, l.HasActiveOrder("ETHUSDC"))

	pos, ok := l.Position("lighter", "BTCUSDC")
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.NetNotional)
}
