package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-vc/backoffice/internal/pkg/logger"
)

// Per-IP fixed-window limit on subscription writes. Generous enough for a
// shared office NAT, tight enough to blunt form-spam bursts.
const (
	subscribeLimitPerMinute = 10
	subscribeWindowTTL      = 120 // seconds
)

// Atomic check-and-increment: reads the counter, denies before incrementing
// when the limit is hit, sets the TTL only on first write.
const ipLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// RateLimiter throttles subscription writes per client IP using a Redis
// Lua script, so the check and the increment are one atomic operation.
// A nil *RateLimiter is valid and allows everything.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a limiter with a pre-compiled Lua script.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(ipLimitLuaScript),
	}
}

// Allow reports whether the client IP may perform another subscription
// write this minute. Redis failures fail open: throttling is protective,
// not load-bearing, and an outage must not block signups.
func (rl *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if rl == nil || rl.redis == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:subscribe:%s:%d", ip, time.Now().Unix()/60)
	result, err := rl.script.Run(ctx, rl.redis,
		[]string{key},
		subscribeLimitPerMinute,
		subscribeWindowTTL,
	).Slice()
	if err != nil {
		logger.Warn("rate limit check failed, allowing", "error", err)
		return true
	}

	allowed, _ := result[0].(int64)
	return allowed == 1
}

// clientIP trusts chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
