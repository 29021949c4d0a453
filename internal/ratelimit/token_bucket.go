package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// bucketScript stores the level in millitokens so every reply is an integer.
// ARGV: rate (tokens/s, equal to millitokens/ms), burst, ttl ms.
// Reply: allowed, whole tokens left, wait ms until the next token.
const bucketScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2]) * 1000
local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "level", "ts")
local level = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  level = math.min(capacity, level + (now - last) * rate)
end

local allowed = 0
local wait = 0
if level >= 1000 then
  allowed = 1
  level = level - 1000
else
  wait = math.ceil((1000 - level) / rate)
end

redis.call("HSET", KEYS[1], "level", level, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, math.floor(level / 1000), wait}
`

// unlockScript deletes the key only while it still holds our token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	takeScript    = redis.NewScript(bucketScript)
	releaseScript = redis.NewScript(unlockScript)
)

// Result describes one Allow decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func take(ctx context.Context, client redis.Scripter, key string, rate float64, burst int) (Result, error) {
	if rate <= 0 || burst <= 0 {
		return Result{}, errors.New("token bucket needs positive rate and burst")
	}
	reply, err := takeScript.Run(ctx, client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(reply) != 3 {
		return Result{}, errors.New("unexpected token bucket reply")
	}
	return Result{
		Allowed:    reply[0] == 1,
		Limit:      burst,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps idle buckets around for twice the full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
