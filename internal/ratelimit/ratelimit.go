package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter spaces calls to Wait by a random delay in [min, max).
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max < min {
		max = min
	}
	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

// AdaptiveRateLimiter widens its delays after repeated failures, typically
// the site throttling or blocking the browser, and narrows them again after a
// run of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	ceilMin       time.Duration
	ceilMax       time.Duration
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		floor:             minDelay,
		maxErrorCount:     3,
		backoffFactor:     1.5,
		ceilMin:           60 * time.Second,
		ceilMax:           120 * time.Second,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		a.minDelay = min(time.Duration(float64(a.minDelay)*a.backoffFactor), a.ceilMin)
		a.maxDelay = min(time.Duration(float64(a.maxDelay)*a.backoffFactor), a.ceilMax)
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.errorCount = 0
	}
}
