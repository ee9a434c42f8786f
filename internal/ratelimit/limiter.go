package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sentinel:rl:"

// Decision is the outcome of one sliding-window check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per bucket in Redis sorted sets. A nil client
// allows everything.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// windowScript trims the bucket to the window, admits the request if there is
// room and returns {count, allowed, oldest score}. Scores are unix micros.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    count = count + 1
    allowed = 1
end
redis.call('EXPIRE', key, ttl)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end
return {count, allowed, oldest_score}
`)

// Check admits one request into bucket if fewer than limit were admitted in
// the last window. On a Redis error the decision allows the request and the
// error is returned so the caller picks fail-open or fail-closed.
func (l *Limiter) Check(ctx context.Context, bucket string, limit int64, window time.Duration) (Decision, error) {
	now := l.now()
	if l.rdb == nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	res, err := windowScript.Run(ctx, l.rdb, []string{keyPrefix + bucket},
		now.Add(-window).UnixMicro(), now.UnixMicro(), limit, int64(window.Seconds())+1,
	).Int64Slice()
	if err != nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return decide(now, window, limit, res[0], res[1] == 1, time.UnixMicro(res[2])), nil
}

// decide turns the script reply into a Decision. The window frees a slot
// when the oldest admitted request ages out.
func decide(now time.Time, window time.Duration, limit, count int64, allowed bool, oldest time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   oldest.Add(window),
	}
	if !allowed {
		d.RetryAfter = max(d.ResetAt.Sub(now), time.Second)
	}
	return d
}
