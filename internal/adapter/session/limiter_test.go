package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, perMinute int) (*PhoneLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPhoneLimiter(rdb, perMinute), mr
}

func TestPhoneLimiterExhaustsBucket(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "59171234567"), "request %d within capacity", i)
	}
	assert.False(t, l.Allow(ctx, "59171234567"), "bucket exhausted")
}

func TestPhoneLimiterIsolatesPhones(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "59171111111"))
	assert.False(t, l.Allow(ctx, "59171111111"))
	assert.True(t, l.Allow(ctx, "59172222222"), "other phones keep their own bucket")
}

func TestPhoneLimiterDisabled(t *testing.T) {
	t.Parallel()
	var l *PhoneLimiter
	assert.True(t, l.Allow(context.Background(), "59171234567"), "nil limiter admits everything")

	assert.Nil(t, NewPhoneLimiter(nil, 10))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	assert.Nil(t, NewPhoneLimiter(rdb, 0))
}

func TestPhoneLimiterFailsOpen(t *testing.T) {
	t.Parallel()
	l, mr := newTestLimiter(t, 1)
	mr.Close()

	assert.True(t, l.Allow(context.Background(), "59171234567"), "redis outage must not block intake")
}
