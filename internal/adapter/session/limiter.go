package session

import (
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pulsohq/pulso/internal/domain"
)

// PhoneLimiter is a Redis-backed token bucket keyed by respondent
// phone. It throttles webhook floods from a single number without
// affecting other respondents; Redis failures fail open so the limiter
// can never take the intake down.
type PhoneLimiter struct {
	rdb        *redis.Client
	capacity   int64
	refillRate float64
	script     *redis.Script
}

// NewPhoneLimiter builds a limiter allowing perMinute messages per
// phone. A non-positive rate disables limiting.
func NewPhoneLimiter(rdb *redis.Client, perMinute int) *PhoneLimiter {
	if rdb == nil || perMinute <= 0 {
		return nil
	}
	return &PhoneLimiter{
		rdb:        rdb,
		capacity:   int64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		script:     redis.NewScript(luaTokenBucketScript),
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return allowed
`

// Allow reports whether one more inbound message from the phone may be
// processed now.
func (l *PhoneLimiter) Allow(ctx domain.Context, phone string) bool {
	if l == nil {
		return true
	}
	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.rdb, []string{"rate:phone:" + phone}, l.capacity, l.refillRate, nowSec).Int64()
	if err != nil {
		slog.Error("phone rate limiter script error", slog.String("phone", phone), slog.Any("error", err))
		return true
	}
	return res == 1
}
