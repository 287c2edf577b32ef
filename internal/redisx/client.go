package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkOnce sets key if absent and reports whether this call set it.
func MarkOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// GetJSON reports found=false on a cache miss.
func GetJSON(ctx context.Context, rdb *redis.Client, key string, out any) (found bool, err error) {
	b, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

// Version reads a version counter; an absent counter is version 0.
func Version(ctx context.Context, rdb *redis.Client, verKey string) (int64, error) {
	return versionOf(rdb.Get(ctx, verKey))
}

func versionOf(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetJSONIfVersion caches v under key only while verKey still holds ver.
// It reports false without error when the version moved on, including when
// it moves during the write.
func SetJSONIfVersion(ctx context.Context, rdb *redis.Client, verKey string, ver int64, key string, v any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	stored := false
	err = rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := versionOf(tx.Get(ctx, verKey))
		if err != nil {
			return err
		}
		if cur != ver {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, ttl)
			return nil
		})
		stored = err == nil
		return err
	}, verKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}

// Invalidate bumps verKey and deletes keys atomically, so refills that read
// before the bump are discarded by SetJSONIfVersion.
func Invalidate(ctx context.Context, rdb *redis.Client, verKey string, keys ...string) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, verKey)
		p.Expire(ctx, verKey, TTLCacheVersion)
		p.Del(ctx, keys...)
		return nil
	})
	return err
}
