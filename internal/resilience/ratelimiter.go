// Package resilience provides the per-key availability machinery for
// provider calls: token-bucket rate limiting, a circuit breaker, and a
// counted semaphore for backpressure. Instances are keyed by
// provider:model and owned by the Manager.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures one token bucket.
type RateLimiterConfig struct {
	// RefillRate is tokens per second.
	RefillRate float64
	// Capacity is the bucket size (burst).
	Capacity int
	// Adaptive enables rate adjustment on success/failure feedback.
	Adaptive bool
	// Floor bounds adaptive decay; zero defaults to RefillRate/10.
	Floor float64
}

// DefaultRateLimiterConfig allows a generous steady rate with bursts.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RefillRate: 50, Capacity: 100}
}

// RateLimiter is a token bucket with an optional adaptive mode that
// nudges the effective refill rate by 10% per outcome, bounded to
// [floor, base rate].
type RateLimiter struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	base    float64
	current float64
	floor   float64
	adapt   bool
}

// NewRateLimiter creates a bucket that starts full.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRateLimiterConfig().RefillRate
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRateLimiterConfig().Capacity
	}
	floor := cfg.Floor
	if floor <= 0 {
		floor = cfg.RefillRate / 10
	}
	return &RateLimiter{
		lim:     rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.Capacity),
		base:    cfg.RefillRate,
		current: cfg.RefillRate,
		floor:   floor,
		adapt:   cfg.Adaptive,
	}
}

// Reserve consumes one token. When the bucket is empty it reports
// ok=false and the delay until a token becomes available; no token is
// consumed in that case.
func (l *RateLimiter) Reserve() (retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.lim.Reserve()
	if !r.OK() {
		return time.Second, false
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay, false
	}
	return 0, true
}

// OnSuccess raises the adaptive rate by 10%, capped at the base rate.
func (l *RateLimiter) OnSuccess() {
	if !l.adapt {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current *= 1.10
	if l.current > l.base {
		l.current = l.base
	}
	l.lim.SetLimit(rate.Limit(l.current))
}

// OnFailure lowers the adaptive rate by 10%, bounded by the floor.
func (l *RateLimiter) OnFailure() {
	if !l.adapt {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current *= 0.90
	if l.current < l.floor {
		l.current = l.floor
	}
	l.lim.SetLimit(rate.Limit(l.current))
}

// Rate returns the current effective refill rate.
func (l *RateLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Tokens reports the tokens available right now.
func (l *RateLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.Tokens()
}
