package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrConcurrencyLimit is returned when a caller already has its maximum
// number of extractions in flight
var ErrConcurrencyLimit = errors.New("concurrency limit reached")

// ConcurrencyLimiter caps in-flight work per caller so one caller cannot
// occupy every pool slot
type ConcurrencyLimiter struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	limit int64
}

// NewConcurrencyLimiter allows limit concurrent jobs per caller. A
// non-positive limit disables the cap.
func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		sems:  make(map[string]*semaphore.Weighted),
		limit: int64(limit),
	}
}

func (c *ConcurrencyLimiter) semaphore(callerID string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, exists := c.sems[callerID]
	if !exists {
		sem = semaphore.NewWeighted(c.limit)
		c.sems[callerID] = sem
	}
	return sem
}

// Acquire takes a slot for the caller without waiting. The returned func
// gives it back and is safe to call more than once.
func (c *ConcurrencyLimiter) Acquire(callerID string) (func(), error) {
	if c == nil || c.limit <= 0 {
		return func() {}, nil
	}

	sem := c.semaphore(callerID)

	if !sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w for caller %s", ErrConcurrencyLimit, callerID)
	}

	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// Wait is like Acquire but blocks until a slot frees or ctx is done. Attached
// debug sessions use it so a caller's extractions and attaches share one cap.
func (c *ConcurrencyLimiter) Wait(ctx context.Context, callerID string) (func(), error) {
	if c == nil || c.limit <= 0 {
		return func() {}, nil
	}

	sem := c.semaphore(callerID)

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
