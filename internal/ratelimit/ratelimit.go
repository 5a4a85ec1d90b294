// Package ratelimit implements a token bucket that throttles metadata lookups.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

const defaultCooldown = 5 * time.Second

// ErrInvalidParams is returned by New for non-positive rate, period or burst.
var ErrInvalidParams = errors.New("rate limiter: rate, period and burst must be positive")

// Limiter refills rate tokens per period continuously, holding at most burst.
type Limiter struct {
	bucket   *rate.Limiter
	cooldown time.Duration
	now      func() time.Time
}

// New returns a full bucket. A non-positive cooldown falls back to 5s.
func New(r float64, period time.Duration, burst int, cooldown time.Duration) (*Limiter, error) {
	if r <= 0 || period <= 0 || burst <= 0 {
		return nil, ErrInvalidParams
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(r/period.Seconds()), burst),
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

// TryAcquire takes one token if available. It never blocks.
func (l *Limiter) TryAcquire() bool {
	return l.bucket.AllowN(l.now(), 1)
}

// Acquire polls TryAcquire every cooldown until it succeeds, timeout elapses
// or ctx is done. A non-positive timeout makes a single attempt.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	if l.TryAcquire() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer.Reset(min(l.cooldown, remaining))
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
		if l.TryAcquire() {
			return true
		}
	}
}

// Tokens reports the current token count after replenishment, for status output.
func (l *Limiter) Tokens() float64 {
	return l.bucket.TokensAt(l.now())
}
