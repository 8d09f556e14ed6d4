package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/carwatch/internal/metrics"
)

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if rate <= 0 or burst <= 0 then
  return {1, 0}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2) + 1000)

return {allowed, wait_ms}
`

// Redis is a token bucket kept in Redis so several carwatch processes
// hitting the same site share one request budget.
type Redis struct {
	rdb    redis.UniversalClient
	key    string
	rate   float64 // tokens per second
	burst  float64
	script *redis.Script
}

// NewRedis returns a shared limiter allowing one request per minDelay
// across all holders of key.
func NewRedis(rdb redis.UniversalClient, key string, minDelay time.Duration) *Redis {
	if key == "" {
		key = "carwatch:ratelimit:default"
	}
	r := &Redis{
		rdb:    rdb,
		key:    key,
		burst:  1,
		script: redis.NewScript(tokenBucketLua),
	}
	if minDelay > 0 {
		r.rate = float64(time.Second) / float64(minDelay)
	}
	return r
}

// Wait blocks until a token is available in the shared bucket.
func (r *Redis) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 {
		return nil
	}

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	defer func() {
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		allowed, waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += rand.N(jitterMax)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *Redis) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]any)
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		parsed, _ := strconv.ParseInt(t, 10, 64)
		return parsed
	}
	return 0
}
