package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimpleRateLimiter spaces out consecutive actions. The first Wait returns immediately.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// NewFixedRateLimiter keeps exactly delay between actions, without jitter.
func NewFixedRateLimiter(delay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: delay,
		maxDelay: delay,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := time.Since(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			timer := time.NewTimer(delay - elapsed)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.lastAction = time.Now()
	return nil
}

// Mark counts now as the last action, so the next Wait measures the delay from here.
func (r *SimpleRateLimiter) Mark() {
	r.mu.Lock()
	r.lastAction = time.Now()
	r.mu.Unlock()
}

// Delay reports the current minimum delay.
func (r *SimpleRateLimiter) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay
}

// Reset forgets the last action so the next Wait does not block.
func (r *SimpleRateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAction = time.Time{}
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// AdaptiveRateLimiter grows its delay after a run of errors and shrinks it back after a run of
// successes. It never goes below the base delay it was created with.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	baseMin       time.Duration
	baseMax       time.Duration
	ceiling       time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	limiter := NewSimpleRateLimiter(minDelay, maxDelay)
	limiter.jitter = maxDelay > minDelay

	return &AdaptiveRateLimiter{
		SimpleRateLimiter: limiter,
		baseMin:           minDelay,
		baseMax:           maxDelay,
		ceiling:           60 * time.Second,
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		a.minDelay = maxDuration(time.Duration(float64(a.minDelay)*0.9), a.baseMin)
		a.maxDelay = maxDuration(time.Duration(float64(a.maxDelay)*0.9), a.baseMax)
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > a.ceiling {
			newMin = a.ceiling
		}
		if newMax > 2*a.ceiling {
			newMax = 2 * a.ceiling
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
