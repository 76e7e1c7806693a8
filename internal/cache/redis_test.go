package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client), mr
}

func cartAt(userID string, version int64, qty int) *domain.Cart {
	return &domain.Cart{
		ID:         "c1",
		UserID:     userID,
		Items:      []domain.CartItem{{ProductID: "64b7f0c2a1b2c3d4e5f60718", Quantity: qty}},
		TotalPrice: decimal.NewFromInt(int64(qty) * 10),
		Currency:   "INR",
		Version:    version,
	}
}

func TestGet_Success(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	cart := cartAt("user123", 4, 2)
	cart.TotalPrice = decimal.RequireFromString("12.75")
	require.NoError(t, cache.Set(ctx, "user123", cart))

	result, err := cache.Get(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "64b7f0c2a1b2c3d4e5f60718", result.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("12.75").Equal(result.TotalPrice))
	assert.Equal(t, int64(4), result.Version)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.HSet(cacheKey("user123"), fieldVersion, "1", fieldCart, `{"user_id":"us`)

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestGet_NullItemsBecomeEmpty(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.HSet(cacheKey("u"), fieldVersion, "1", fieldCart, `{"user_id":"u","items":null,"total_price":"0"}`)

	cart, err := cache.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.NotNil(t, cart.Items)
	assert.Empty(t, cart.Items)
}

func TestSet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user456"

	require.NoError(t, cache.Set(context.Background(), userID, cartAt(userID, 1, 1)))

	stored := mr.HGet(cacheKey(userID), fieldCart)
	require.NotEmpty(t, stored)
	var storedCart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &storedCart))
	assert.Equal(t, userID, storedCart.UserID)
	assert.Len(t, storedCart.Items, 1)
	assert.Equal(t, "1", mr.HGet(cacheKey(userID), fieldVersion))
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	userID := "user789"

	require.NoError(t, cache.Set(context.Background(), userID, cartAt(userID, 1, 1)))

	ttl := mr.TTL(cacheKey(userID))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute, "TTL should be at least base TTL")
	assert.LessOrEqual(t, ttl, 20*time.Minute, "TTL should be base + max jitter")
}

func TestSet_OlderVersionNeverReplacesNewer(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u", cartAt("u", 2, 2)))
	require.NoError(t, cache.Set(ctx, "u", cartAt("u", 1, 1)), "a rejected fill is not an error")

	got, err := cache.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.Items[0].Quantity)

	require.NoError(t, cache.Set(ctx, "u", cartAt("u", 3, 3)))
	got, err = cache.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestSet_ReportsRedisFailure(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.SetError("READONLY replica")

	err := cache.Set(context.Background(), "u", cartAt("u", 1, 1))
	assert.ErrorContains(t, err, "redis set failed")
	assert.ErrorContains(t, err, "READONLY")
}

func TestDelete_LeavesTombstone(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	userID := "user999"

	require.NoError(t, cache.Set(ctx, userID, cartAt(userID, 1, 1)))
	require.NoError(t, cache.Delete(ctx, userID))

	_, err := cache.Get(ctx, userID)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// a fill that read the store before the delete arrives late
	require.NoError(t, cache.Set(ctx, userID, cartAt(userID, 1, 1)))
	_, err = cache.Get(ctx, userID)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.LessOrEqual(t, mr.TTL(cacheKey(userID)), tombstoneTTL)

	mr.FastForward(tombstoneTTL + time.Second)
	require.NoError(t, cache.Set(ctx, userID, cartAt(userID, 1, 1)))
	_, err = cache.Get(ctx, userID)
	assert.NoError(t, err)
}

func TestDelete_NonExistentKey(t *testing.T) {
	cache, _ := setupTestRedis(t)

	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestPing(t *testing.T) {
	cache, mr := setupTestRedis(t)
	assert.NoError(t, cache.Ping(context.Background()))

	mr.SetError("LOADING dataset")
	assert.Error(t, cache.Ping(context.Background()))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
}
