package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/backend/internal/models"
)

func TestResultCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewResultCache(rdb)
	ctx := context.Background()

	wallet := &models.Wallet{UserID: "u1", Balance: 5000, Available: 5000, Status: models.WalletActive, Version: 1}
	raw, err := json.Marshal(wallet)
	require.NoError(t, err)

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("ledger:idem:u1:key-1").SetVal(string(raw))

		got, ok := cache.Get(ctx, "u1", "key-1")
		require.True(t, ok)
		assert.Equal(t, wallet.Balance, got.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss falls through", func(t *testing.T) {
		mock.ExpectGet("ledger:idem:u1:key-2").RedisNil()

		_, ok := cache.Get(ctx, "u1", "key-2")
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set", func(t *testing.T) {
		mock.ExpectSet("ledger:idem:u1:key-3", raw, 24*time.Hour).SetVal("OK")

		cache.Set(ctx, "u1", "key-3", wallet)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *ResultCache

	_, ok := cache.Get(context.Background(), "u", "k")
	assert.False(t, ok)
	cache.Set(context.Background(), "u", "k", &models.Wallet{})

	assert.Nil(t, NewResultCache(nil))
}
