package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func (b *Broker) rateLimitKey(resource string) string {
	return b.key("ratelimit", resource)
}

// Allow increments resource's counter and reports whether it is still
// within limit for the current window. The counter's TTL is reset to
// window on the first increment of each window, so it naturally
// expires rather than requiring a cleanup sweep.
func (b *Broker) Allow(ctx context.Context, resource string, limit int64, window time.Duration) (bool, error) {
	key := b.rateLimitKey(resource)
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= limit, nil
}

// RateLimitCount reports the current counter value for resource
// without incrementing it, or 0 if no window is active.
func (b *Broker) RateLimitCount(ctx context.Context, resource string) (int64, error) {
	val, err := b.client.Get(ctx, b.rateLimitKey(resource)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}
