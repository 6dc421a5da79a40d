package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares sliding-window counters between API instances. Each
// fixed window is a Redis counter that expires after two windows.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

// Allow implements Limiter. The request is counted before the decision, so
// rejected requests keep a hammering client limited.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	currKey := l.key(key, start)
	prevKey := l.key(key, start.Add(-l.window))

	var (
		incr *redis.IntCmd
		prev *redis.StringCmd
	)
	_, err := l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, currKey)
		p.Expire(ctx, currKey, 2*l.window)
		prev = p.Get(ctx, prevKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "redis rate limit")
	}

	prevCount, err := prev.Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "parse previous window")
	}
	// The counter already includes this request.
	count := slidingCount(prevCount, float64(incr.Val()-1), start, now, l.window)

	resetAt := start.Add(l.window)
	if count >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(l.max)-count-1), 0),
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisLimiter) key(key string, windowStart time.Time) string {
	return l.prefix + ":" + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}
