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
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/httputil"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 3})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := rl.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, wait, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	// other keys have their own bucket
	ok, _, _ = rl.Allow(ctx, "ip:5.6.7.8")
	assert.True(t, ok)

	// one token refills per second
	now = now.Add(time.Second)
	ok, _, _ = rl.Allow(ctx, "ip:1.2.3.4")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	now := time.Now()
	rl.now = func() time.Time { return now }

	_, _, _ = rl.Allow(context.Background(), "a")
	now = now.Add(10 * time.Minute)
	_, _, _ = rl.Allow(context.Background(), "b")
	require.Equal(t, 2, rl.Len())

	rl.Cleanup(5 * time.Minute)
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	start := time.Now()
	rl.now = func() time.Time { return start }
	_, _, _ = rl.Allow(context.Background(), "idle")
	later := start.Add(10 * time.Minute)
	rl.now = func() time.Time { return later }

	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartCleanup(ctx, 10*time.Millisecond, logger)

	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 10*time.Millisecond)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("backend down")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	h := RateLimit(rl, "/api/v1/auth/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/api/v1/auth/login").Code)

	rec := send("/api/v1/auth/login")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	env := decodeTestEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, httputil.CodeRateLimited, env.Error.Code)

	// paths outside the prefix are not limited
	assert.Equal(t, http.StatusOK, send("/api/v1/students").Code)
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	h := RateLimit(errLimiter{}, "/api/v1/auth/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerMinute: 2, Burst: 1}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := rl.Allow(ctx, "ip:1.1.1.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, wait, err := rl.Allow(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	ok, _, err = rl.Allow(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rl.Reset(ctx, "ip:1.1.1.1"))
	assert.False(t, mr.Exists("test:ip:1.1.1.1"))
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	rl := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerMinute: 1, Burst: 1}, "")
	var ok bool
	ok, _, err = rl.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware_IgnoresSpoofedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	h := RealIP(nil)(RateLimit(rl, "/api/v1/auth/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	// a fresh forwarded address does not buy a fresh bucket
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
}
