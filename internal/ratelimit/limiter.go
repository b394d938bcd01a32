// Package ratelimit throttles Telegram users with sliding windows kept in Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long until the oldest counted attempt leaves the window.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r == nil || r.ResetAt.Before(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Limiter describes a rate-limiting strategy interface.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")
