package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RateStore persists the bounded funding-rate / mark-price history. The
// in-memory rolling windows are the hot path; this store backs funding-PnL
// queries and survives restarts.
type RateStore interface {
	InsertBatch(ctx context.Context, samples []RateSample) error
	ListRange(ctx context.Context, venue Venue, symbol string, since, until time.Time) ([]RateSample, error)
	ListBefore(ctx context.Context, before time.Time) ([]RateSample, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderStore persists arbitrage orders and their legs.
type OrderStore interface {
	Create(ctx context.Context, order ArbitrageOrder) error
	Update(ctx context.Context, order ArbitrageOrder) error
	GetByID(ctx context.Context, id string) (ArbitrageOrder, error)
	ListByState(ctx context.Context, states ...OrderState) ([]ArbitrageOrder, error)
	ListHistory(ctx context.Context, symbol string, opts ListOpts) ([]ArbitrageOrder, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageOrder, error)
}

// TradeStore persists immutable fill records.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListByOrder(ctx context.Context, orderID string) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PnLStore persists realized per-order results.
type PnLStore interface {
	Upsert(ctx context.Context, record PnLRecord) error
	GetByOrder(ctx context.Context, orderID string) (PnLRecord, error)
	ListRecent(ctx context.Context, limit int) ([]PnLRecord, error)
	Summary(ctx context.Context, since time.Time) (PnLSummary, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of operational events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
