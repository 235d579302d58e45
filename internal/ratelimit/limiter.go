package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExhausted is returned by Wait when no send slot frees up before
// the caller's deadline.
var ErrBudgetExhausted = errors.New("send budget exhausted")

// RateLimiter controls outbound send throughput per key (usually the transport host).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
