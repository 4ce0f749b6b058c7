package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/eventra/backend/internal/models"
)

const cacheTTL = 24 * time.Hour

// ResultCache is a redis fast path for idempotent replays: committed wallet
// snapshots keyed by (userID, idempotencyKey). The unique index on the
// transaction log remains the source of truth; the service works with a nil
// cache when redis is unavailable.
type ResultCache struct {
	rdb *redis.Client
}

func NewResultCache(rdb *redis.Client) *ResultCache {
	if rdb == nil {
		return nil
	}
	return &ResultCache{rdb: rdb}
}

func cacheKey(userID, key string) string {
	return "ledger:idem:" + userID + ":" + key
}

func (c *ResultCache) Get(ctx context.Context, userID, key string) (*models.Wallet, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(userID, key)).Bytes()
	if err != nil {
		return nil, false
	}
	var w models.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	return &w, true
}

func (c *ResultCache) Set(ctx context.Context, userID, key string, w *models.Wallet) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	// best effort; a miss just falls through to the durable lookup
	c.rdb.Set(ctx, cacheKey(userID, key), raw, cacheTTL)
}
