package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// Narrow store views required by the archiver. The Postgres stores satisfy
// these implicitly; the archiver never needs their write paths.

// RateSource reads and prunes aged rate samples.
type RateSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.RateSample, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeSource reads and prunes aged fills.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderSource reads aged orders. Orders are copied to cold storage but never
// deleted from the primary store, so there is no prune method.
type OrderSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOrder, error)
}

// Archiver implements domain.Archiver: it serializes aged records to JSONL,
// uploads the batch, verifies the object landed, and only then prunes the
// archived rows from the primary store.
type Archiver struct {
	logger *slog.Logger
	writer domain.BlobWriter
	verify *Reader
	rates  RateSource
	trades TradeSource
	orders OrderSource
	audit  domain.AuditStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. verify and audit may be nil, in which
// case upload verification and audit logging are skipped.
func NewArchiver(
	logger *slog.Logger,
	writer domain.BlobWriter,
	verify *Reader,
	rates RateSource,
	trades TradeSource,
	orders OrderSource,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		logger: logger.With("component", "archiver"),
		writer: writer,
		verify: verify,
		rates:  rates,
		trades: trades,
		orders: orders,
		audit:  audit,
	}
}

// ArchiveRates uploads all rate samples older than before to
// archive/rates/YYYY-MM.jsonl and deletes them from the primary store.
func (a *Archiver) ArchiveRates(ctx context.Context, before time.Time) (int64, error) {
	samples, err := a.rates.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rates query: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(samples)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rates marshal: %w", err)
	}

	path := archivePath("rates", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive rates: %w", err)
	}

	deleted, err := a.rates.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rates prune: %w", err)
	}

	a.record(ctx, "archive.rates", path, deleted, before)
	return deleted, nil
}

// ArchiveTrades uploads all fills older than before to
// archive/trades/YYYY-MM.jsonl and deletes them from the primary store.
// Trades referenced by open orders never match: fills age out only after
// their order has closed and its result has been realized.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.record(ctx, "archive.trades", path, deleted, before)
	return deleted, nil
}

// ArchiveOrders uploads all orders closed before the cutoff to
// archive/orders/YYYY-MM.jsonl. The rows stay in the primary store so the
// history endpoints keep serving them.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders: %w", err)
	}

	count := int64(len(orders))
	a.record(ctx, "archive.orders", path, count, before)
	return count, nil
}

// upload puts a JSONL payload and verifies the object exists when a
// verification reader is configured.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if a.verify != nil {
		ok, err := a.verify.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if !ok {
			return fmt.Errorf("verify: object %s missing after upload", path)
		}
	}
	return nil
}

// record logs the archival both to the structured log and the audit trail.
func (a *Archiver) record(ctx context.Context, event, path string, count int64, before time.Time) {
	a.logger.Info("archived records",
		"event", event,
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339),
	)
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.Warn("audit log failed", "event", event, "error", err)
	}
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/rates/2026-08.jsonl
//	archive/trades/2026-08.jsonl
//	archive/orders/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
