package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mailqueue/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 10
	budgetWindow       = time.Second
	keyPrefix          = "mailqueue:sendbudget"
)

// reserveScript takes one send slot from the current budget window. It
// returns 0 when the slot is granted, otherwise the milliseconds left until
// the window resets.
var reserveScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a send budget shared by every process pointed at the
// same Redis. The window opens with the first send and a blocked caller
// sleeps exactly until it resets.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limitPerSec,
		now:    time.Now,
		sleep:  ratelimit.SleepWithContext,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	retryAfter, err := r.reserve(ctx, key)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until a slot is granted. When the next window opens after the
// ctx deadline it fails at once with ratelimit.ErrBudgetExhausted instead of
// holding a claimed email until the deadline.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryAfter, err := r.reserve(ctx, key)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}

		if deadline, ok := ctx.Deadline(); ok && deadline.Sub(r.now()) < retryAfter {
			return fmt.Errorf("%w: next slot for %q in %s", ratelimit.ErrBudgetExhausted, key, retryAfter)
		}
		if err := r.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, key string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	budgetKey, err := budgetKeyFor(key)
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	waitMillis, err := reserveScript.Run(ctx, r.client, []string{budgetKey}, r.limit, budgetWindow.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve send slot: %w", err)
	}

	return time.Duration(waitMillis) * time.Millisecond, nil
}

func budgetKeyFor(key string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return "", fmt.Errorf("rate limit key is required")
	}
	return keyPrefix + ":" + normalized, nil
}
