package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"flagpost/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript implements a token bucket shared across instances.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.ceil(fill_time * 2)

local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

local delta = math.max(0, now - last_ts)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = 0
local remaining = filled_tokens
local reset_after = 0

if filled_tokens >= requested then
    allowed = 1
    filled_tokens = filled_tokens - requested
    remaining = filled_tokens
else
    reset_after = (requested - filled_tokens) / rate
end

if allowed == 1 then
    redis.call("set", tokens_key, filled_tokens, "EX", ttl)
    redis.call("set", ts_key, now, "EX", ttl)
end

return { allowed, remaining, reset_after }
`)

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// fallbackLimiters holds per-IP in-memory limiters used when redis is
// unreachable. Entries idle for ten minutes are evicted.
type fallbackLimiters struct {
	mu       sync.Mutex
	limiters map[string]*localLimiter
}

func newFallbackLimiters() *fallbackLimiters {
	f := &fallbackLimiters{limiters: make(map[string]*localLimiter)}
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			now := time.Now()
			f.mu.Lock()
			for ip, l := range f.limiters {
				if now.Sub(l.lastSeen) > 10*time.Minute {
					delete(f.limiters, ip)
				}
			}
			f.mu.Unlock()
		}
	}()
	return f
}

func (f *fallbackLimiters) get(ip string, r rate.Limit, b int) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[ip]; ok {
		l.lastSeen = time.Now()
		return l.limiter
	}
	l := &localLimiter{limiter: rate.NewLimiter(r, b), lastSeen: time.Now()}
	f.limiters[ip] = l
	return l.limiter
}

// RateLimitMiddleware enforces a per-IP write budget through redis, failing
// open to an in-memory limiter when redis is unavailable.
func RateLimitMiddleware(rdb *redis.Client, requestsPerSecond int) gin.HandlerFunc {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	burst := requestsPerSecond
	fallback := newFallbackLimiters()

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		keyPrefix := "flagpost:ratelimit:" + clientIP
		keys := []string{keyPrefix + ":tokens", keyPrefix + ":ts"}
		now := float64(time.Now().UnixMicro()) / 1e6
		args := []any{float64(requestsPerSecond), float64(burst), now, 1}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		result, err := tokenBucketScript.Run(ctx, rdb, keys, args...).Result()
		if err != nil {
			logger.Warn("redis rate limit failed, using local fallback",
				zap.Error(err),
				zap.String("ip", clientIP))

			limiter := fallback.get(clientIP, rate.Limit(requestsPerSecond), burst)
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerSecond))
			if !limiter.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
				return
			}
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
			c.Next()
			return
		}

		resSlice, ok := result.([]any)
		if !ok || len(resSlice) != 3 {
			logger.Error("unexpected redis rate limit response", zap.Any("response", result))
			c.Next() // fail open on protocol error
			return
		}

		allowed := toInt64(resSlice[0]) == 1
		remaining := toFloat64(resSlice[1])
		resetAfter := toFloat64(resSlice[2])

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerSecond))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))
		resetTime := time.Now().Add(time.Duration(resetAfter * float64(time.Second)))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		c.Next()
	}
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	}
	return 0
}
