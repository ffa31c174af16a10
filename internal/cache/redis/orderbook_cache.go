package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// OrderbookCache keeps the latest depth snapshot per symbol as one JSON
// value at "book:{symbol}". Depth streams deliver whole snapshots, so each
// write replaces the previous one.
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)

// NewOrderbookCache creates a cache. A zero ttl keeps snapshots forever.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(symbol string) string { return "book:" + symbol }

// SetSnapshot replaces the stored snapshot of snap.Symbol.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	raw, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode orderbook %s: %w", snap.Symbol, err)
	}
	if err := oc.rdb.Set(ctx, bookKey(snap.Symbol), raw, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set orderbook %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot of symbol, or ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	raw, err := oc.rdb.Get(ctx, bookKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook %s: %w", symbol, err)
	}
	var snap domain.OrderbookSnapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode orderbook %s: %w", symbol, err)
	}
	return snap, nil
}
