package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const carrierWindowPrefix = "rl:carrier:"

// RateLimiter counts carrier status fetches in per-minute windows shared by every process.
type RateLimiter struct {
	c      *redis.Client
	window time.Duration
	grace  time.Duration
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c, window: time.Minute, grace: 10 * time.Second}
}

// CarrierWindowKey names the counter of the minute that contains at.
func CarrierWindowKey(carrierCode string, at time.Time) string {
	return carrierWindowPrefix + carrierCode + ":" + at.UTC().Format("200601021504")
}

// AllowFetch увеличивает счётчик окна; ключ живёт чуть дольше окна, чтобы не обнулиться посреди минуты.
func (rl *RateLimiter) AllowFetch(ctx context.Context, carrierCode string, at time.Time, limit int64) (bool, int64, error) {
	key := CarrierWindowKey(carrierCode, at)

	var incr *redis.IntCmd
	_, err := rl.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, rl.window+rl.grace)
		return nil
	})
	if err != nil {
		return false, 0, errors.Wrapf(err, "rate limit %s", carrierCode)
	}
	n := incr.Val()
	return limit <= 0 || n <= limit, n, nil
}
