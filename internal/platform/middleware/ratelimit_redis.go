package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRateLimitPrefix = "emr:ratelimit:"

// RedisLimiter counts requests in fixed one-minute windows shared by every
// replica. Window counters expire on their own.
type RedisLimiter struct {
	client *redis.Client
	cfg    RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewRedisLimiter builds a limiter on client. An empty prefix uses
// "emr:ratelimit:".
func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisLimiter{client: client, cfg: cfg, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	window := now.Truncate(time.Minute)
	k := l.prefix + key + ":" + strconv.FormatInt(window.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, time.Minute+time.Second)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if incr.Val() > int64(l.cfg.PerMinute) {
		return false, window.Add(time.Minute).Sub(now), nil
	}
	return true, 0, nil
}
