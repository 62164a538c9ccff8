package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

// spreadTTL bounds how long a snapshot survives without refresh, so readers
// never see a venue outage as a healthy spread.
const spreadTTL = 10 * time.Minute

// SpreadCache implements domain.SpreadCache using Redis string keys holding
// JSON snapshots at "spread:{symbol}".
type SpreadCache struct {
	rdb *redis.Client
}

// NewSpreadCache creates a SpreadCache backed by the given Client.
func NewSpreadCache(c *Client) *SpreadCache {
	return &SpreadCache{rdb: c.Underlying()}
}

func spreadKey(symbol string) string {
	return "spread:" + symbol
}

// SetSnapshot stores the latest snapshot for a symbol.
func (sc *SpreadCache) SetSnapshot(ctx context.Context, snap domain.SpreadSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, spreadKey(snap.Symbol), payload, spreadTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for a symbol. It returns
// domain.ErrNotFound when no snapshot exists.
func (sc *SpreadCache) GetSnapshot(ctx context.Context, symbol string) (domain.SpreadSnapshot, error) {
	payload, err := sc.rdb.Get(ctx, spreadKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SpreadSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SpreadSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}

	var snap domain.SpreadSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.SpreadSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SpreadCache = (*SpreadCache)(nil)
