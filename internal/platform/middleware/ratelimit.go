package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuronova/emr/internal/platform/auth"
)

// Limiter admits or refuses one more request for key. retryAfter is only
// meaningful when the request is refused.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitConfig is a per-key budget of requests per minute.
type RateLimitConfig struct {
	PerMinute int
}

func (c RateLimitConfig) perSecond() float64 { return float64(c.PerMinute) / 60 }

// tokenBucket refills continuously at the configured rate and holds at most
// one minute of budget.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Minute
	}
	wait := (1 - b.tokens) / b.refillRate
	return false, time.Duration(math.Ceil(wait)) * time.Second
}

// bucketIdle is how long a bucket may go unused before the sweep drops it.
// By then it has refilled completely, so a fresh bucket is equivalent.
const bucketIdle = time.Minute

// MemoryLimiter keeps one token bucket per key in process memory. It suits
// a single replica; use RedisLimiter when several replicas share a budget.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	now     func() time.Time
	done    chan struct{}
}

// NewMemoryLimiter creates a limiter and starts its sweep loop. Call Close
// to stop it.
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	ok, wait := l.bucket(key).take(l.now())
	return ok, wait, nil
}

func (l *MemoryLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.cfg.perSecond(), l.cfg.PerMinute, l.now())
	l.buckets[key] = b
	return b
}

// Close stops the sweep goroutine. Safe to call more than once.
func (l *MemoryLimiter) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

func (l *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(bucketIdle)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep drops buckets untouched for longer than bucketIdle.
func (l *MemoryLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill) > bucketIdle
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}

// RateLimit refuses requests over budget with 429 and a Retry-After header.
// Authenticated callers are keyed by user id, anonymous ones by client IP,
// and scope separates budgets of different route groups. A failing limiter
// lets the request through.
func RateLimit(scope string, limit int, l Limiter, logger zerolog.Logger) echo.MiddlewareFunc {
	limitHeader := strconv.Itoa(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := scope + ":ip:" + c.RealIP()
			if id := auth.IdentityFromContext(c.Request().Context()); id.Authenticated() {
				key = scope + ":user:" + id.ID.String()
			}

			allowed, retryAfter, err := l.Allow(c.Request().Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				h.Set("X-RateLimit-Remaining", "0")
				logger.Warn().
					Str("type", "rate_limited").
					Str("scope", scope).
					Str("key", key).
					Msg("request over budget")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
