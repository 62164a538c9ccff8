package domain

import (
	"context"
	"io"
	"time"
)

// SpreadCache holds the latest spread snapshot per symbol as a read-only
// projection for the dashboard/API layer.
type SpreadCache interface {
	SetSnapshot(ctx context.Context, snap SpreadSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (SpreadSnapshot, error)
}

// LockManager provides distributed locking. The ledger enforces per-symbol
// single-flight inside the process; the lock manager extends the guarantee
// across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus carries events out of the core (spread updates, opportunities,
// order/risk events) and the two external commands into it.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged records from the database to cold storage.
type Archiver interface {
	ArchiveRates(ctx context.Context, before time.Time) (int64, error)
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}
