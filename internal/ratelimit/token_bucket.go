package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

-- tokens is returned as a string so the fraction survives the integer reply conversion
return {allowed, tostring(tokens), ts}
`

var (
	errNotConfigured = errors.New("rate limiter not configured")
	errEmptyKey      = errors.New("rate limiter key is empty")
	errBadRate       = errors.New("rate limiter rate and burst must be positive")
	errBadReply      = errors.New("invalid rate limit script response")
)

// TokenBucket is a redis-backed bucket shared by every instance.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, errNotConfigured
	}
	if key == "" {
		return Result{}, errEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Result{}, errBadRate
	}

	ttl := defaultBucketTTL(rate, burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, errBadReply
	}

	allowed := castToInt(res[0]) == 1
	remaining := castToFloat(res[1])

	return Result{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, rate),
	}, nil
}

func (t *TokenBucket) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func retryAfter(allowed bool, remaining, rate float64) time.Duration {
	if allowed || rate <= 0 {
		return 0
	}
	needed := 1.0 - remaining
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / rate * float64(time.Second))
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}

func castToFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
