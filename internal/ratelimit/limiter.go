// Package ratelimit bounds how fast and how concurrently one caller may use the pool.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per caller
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	perHour  int
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerHour per caller with
// bursts of up to burst requests. A non-positive requestsPerHour disables it.
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	r := rate.Inf
	if requestsPerHour > 0 {
		r = rate.Limit(float64(requestsPerHour) / 3600.0)
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		perHour:  requestsPerHour,
		rate:     r,
		burst:    burst,
	}
}

func (l *Limiter) bucket(callerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[callerID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[callerID] = limiter
	}
	return limiter
}

// Allow consumes a token for the caller if one is available
func (l *Limiter) Allow(callerID string) bool {
	return l.bucket(callerID).Allow()
}

// Remaining returns the whole tokens left for the caller
func (l *Limiter) Remaining(callerID string) int {
	if l.rate == rate.Inf {
		return l.burst
	}
	return int(l.bucket(callerID).Tokens())
}

// PerHour is the configured hourly budget
func (l *Limiter) PerHour() int {
	return l.perHour
}
