package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuronova/emr/internal/platform/auth"
)

func rateLimitedCall(t *testing.T, mw echo.MiddlewareFunc, id *auth.Identity, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), id))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return rec, err
}

func TestRateLimit_PerUserBudget(t *testing.T) {
	limiter := NewMemoryLimiter(RateLimitConfig{PerMinute: 2})
	defer limiter.Close()
	mw := RateLimit("predictions", 2, limiter, zerolog.Nop())
	alice := &auth.Identity{ID: uuid.New(), Role: auth.RoleDoctor}
	bob := &auth.Identity{ID: uuid.New(), Role: auth.RoleDoctor}

	for i := 0; i < 2; i++ {
		rec, err := rateLimitedCall(t, mw, alice, "10.0.0.1")
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec, err := rateLimitedCall(t, mw, alice, "10.0.0.1")
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Same address, different account.
	_, err = rateLimitedCall(t, mw, bob, "10.0.0.1")
	assert.NoError(t, err)
}

func TestRateLimit_AnonymousKeyedByIP(t *testing.T) {
	limiter := NewMemoryLimiter(RateLimitConfig{PerMinute: 1})
	defer limiter.Close()
	mw := RateLimit("api", 1, limiter, zerolog.Nop())

	_, err := rateLimitedCall(t, mw, nil, "10.0.0.1")
	require.NoError(t, err)
	_, err = rateLimitedCall(t, mw, nil, "10.0.0.1")
	assert.Error(t, err)
	_, err = rateLimitedCall(t, mw, nil, "10.0.0.2")
	assert.NoError(t, err)
}

func TestMemoryLimiter_Refills(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(RateLimitConfig{PerMinute: 60})
	defer l.Close()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		ok, _, _ := l.Allow(ctx, "k")
		require.True(t, ok, "request %d", i+1)
	}
	ok, wait, _ := l.Allow(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(time.Second)
	ok, _, _ = l.Allow(ctx, "k")
	assert.True(t, ok, "one token refills per second")
}

func TestMemoryLimiter_ZeroBudget(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{PerMinute: 0})
	defer l.Close()
	ok, wait, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func (l *MemoryLimiter) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func TestMemoryLimiter_SweepDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(RateLimitConfig{PerMinute: 5})
	defer l.Close()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = l.Allow(ctx, "stale")
	now = now.Add(50 * time.Second)
	_, _, _ = l.Allow(ctx, "recent")
	require.Equal(t, 2, l.size())

	now = now.Add(20 * time.Second)
	l.sweep()
	assert.Equal(t, 1, l.size(), "only the bucket idle for over a minute is dropped")

	l.mu.RLock()
	_, kept := l.buckets["recent"]
	l.mu.RUnlock()
	assert.True(t, kept)
}

func TestMemoryLimiter_CloseTwice(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{PerMinute: 1})
	l.Close()
	assert.NotPanics(t, l.Close)
}

func TestRedisLimiter_Window(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2024, 3, 1, 9, 0, 15, 0, time.UTC)
	l := NewRedisLimiter(client, RateLimitConfig{PerMinute: 2}, "")
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, wait, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, wait)

	key := "emr:ratelimit:user:1:" + "1709283600"
	assert.True(t, s.Exists(key))
	assert.Greater(t, s.TTL(key), time.Duration(0))

	now = now.Add(time.Minute)
	ok, _, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok, "next window starts a fresh count")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("connection refused")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mw := RateLimit("api", 10, failingLimiter{}, zerolog.Nop())
	rec, err := rateLimitedCall(t, mw, nil, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}
