package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// KV returns the redis-backed KV view of this connection.
func (r *Redis) KV() *RedisKV {
	return &RedisKV{client: r.Client}
}

// RedisKV implements KV on plain redis strings. Values never expire; the
// ledger's daily semantics come from date comparison, not TTLs.
type RedisKV struct {
	client *redis.Client
}

// Get returns the value at key, with ok=false for a missing key.
func (kv *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := kv.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set overwrites the value at key.
func (kv *RedisKV) Set(ctx context.Context, key, value string) error {
	return kv.client.Set(ctx, key, value, 0).Err()
}
