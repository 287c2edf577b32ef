package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestJSONRoundTrip(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()

	type item struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	var out item
	found, err := GetJSON(ctx, rdb, "order:1", &out)
	require.NoError(t, err)
	assert.False(t, found)

	stored, err := SetJSONIfVersion(ctx, rdb, "order_ver:1", 0, "order:1", item{ID: 1, Name: "lamp"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, time.Minute, mr.TTL("order:1"))

	found, err = GetJSON(ctx, rdb, "order:1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, item{ID: 1, Name: "lamp"}, out)
}

func TestGetJSON_Corrupt(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("order:2", "{not json"))

	var out map[string]any
	found, err := GetJSON(context.Background(), rdb, "order:2", &out)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestMarkOnce(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()

	first, err := MarkOnce(ctx, rdb, "dedup:svc:e1", TTLDedup)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := MarkOnce(ctx, rdb, "dedup:svc:e1", TTLDedup)
	require.NoError(t, err)
	assert.False(t, second)

	ok, err := Exists(ctx, rdb, "dedup:svc:e1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:svc:e1"))
}

func TestSetJSONIfVersion_StaleRefillDiscarded(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()

	ver, err := Version(ctx, rdb, "order_ver:3")
	require.NoError(t, err)
	assert.Zero(t, ver)

	// a writer commits and invalidates between the read and the refill
	require.NoError(t, Invalidate(ctx, rdb, "order_ver:3", "order:3", "order_tx:3"))
	assert.Equal(t, TTLCacheVersion, mr.TTL("order_ver:3"))

	stored, err := SetJSONIfVersion(ctx, rdb, "order_ver:3", ver, "order:3", map[string]string{"status": "Pending"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("order:3"))

	ver, err = Version(ctx, rdb, "order_ver:3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
	stored, err = SetJSONIfVersion(ctx, rdb, "order_ver:3", ver, "order:3", map[string]string{"status": "Dispatched"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestInvalidate(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("order:4", "{}"))
	require.NoError(t, mr.Set("order_tx:4", "{}"))

	require.NoError(t, Invalidate(context.Background(), rdb, "order_ver:4", "order:4", "order_tx:4"))
	require.NoError(t, Invalidate(context.Background(), rdb, "order_ver:4", "order:4", "order_tx:4"))

	assert.False(t, mr.Exists("order:4"))
	assert.False(t, mr.Exists("order_tx:4"))
	v, err := mr.Get("order_ver:4")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
