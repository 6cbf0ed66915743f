// Package rediscache holds the Redis-backed pieces of the service:
// KPI cache entries, sink dedupe claims and carrier fetch counters.
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	c *redis.Client
}

func New(addr string) *RedisCache {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

func NewWithClient(c *redis.Client) *RedisCache {
	return &RedisCache{c: c}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, "redis "+op)
}

// Get returns ok=false for a missing key.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, wrap("get", err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap("set", r.c.Set(ctx, key, value, ttl).Err())
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", r.c.Del(ctx, keys...).Err())
}

// Claim ставит ключ, только если его ещё нет. true означает, что ключ наш.
func (r *RedisCache) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return wrap("ping", r.c.Ping(ctx).Err())
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
