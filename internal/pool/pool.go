// Package pool maps concurrent extraction requests onto a fixed number of
// reusable browser sessions.
//
// The Coordinator owns a fixed slice of slots. Every slot mutation happens
// under the coordinator lock; browser launches, refreshes and terminations
// run outside it. Lock order is coordinator, then actor.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/session"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

var (
	// ErrPoolExhausted means no session freed up before the queue timeout
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrPoolUnavailable means sessions could not be started
	ErrPoolUnavailable = errors.New("pool unavailable")
	// ErrPoolClosed is returned after Close
	ErrPoolClosed = errors.New("pool closed")
)

const healthProbeTimeout = 10 * time.Second

// Config sizes the pool and its maintenance cadence
type Config struct {
	MaxSessions     int
	SessionLifetime time.Duration
	MaxIdle         time.Duration
	ReclaimInterval time.Duration
	HealthInterval  time.Duration
	QueueTimeout    time.Duration
	LaunchTimeout   time.Duration
	LaunchRetries   int
	WarmSessions    int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxSessions:     10,
		SessionLifetime: 8*time.Minute + 30*time.Second,
		MaxIdle:         time.Hour,
		ReclaimInterval: time.Hour,
		HealthInterval:  3 * time.Minute,
		QueueTimeout:    30 * time.Second,
		LaunchTimeout:   browser.DefaultLaunchTimeout,
		LaunchRetries:   2,
	}
}

type slot struct {
	index int
	// state is "" for a slot that never held a session
	state    models.SessionState
	actor    *session.Actor
	checking bool
	// lease is the allocation currently holding a Busy slot
	lease *Lease
}

func (s *slot) empty() bool {
	return s.actor == nil && (s.state == "" || s.state == models.StateTerminated)
}

type grant struct {
	lease *Lease
	err   error
}

// waiter is a queued allocation; it is resolved exactly once, under the
// coordinator lock
type waiter struct {
	requestID  string
	enqueuedAt time.Time
	ch         chan grant
	resolved   bool
}

// Coordinator allocates, queues and reclaims browser sessions
type Coordinator struct {
	cfg      Config
	launcher browser.Launcher
	log      logger.Logger

	mu             sync.Mutex
	slots          []*slot
	waiters        *list.List
	closed         bool
	queueLaunchErr int

	cron *cron.Cron
	bg   sync.WaitGroup
}

// New creates a coordinator with cfg.MaxSessions empty slots. Call Start to
// warm sessions and schedule maintenance.
func New(cfg Config, launcher browser.Launcher, log logger.Logger) *Coordinator {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	if cfg.LaunchRetries < 0 {
		cfg.LaunchRetries = 0
	}
	if cfg.WarmSessions > cfg.MaxSessions {
		cfg.WarmSessions = cfg.MaxSessions
	}

	slots := make([]*slot, cfg.MaxSessions)
	for i := range slots {
		slots[i] = &slot{index: i}
	}

	return &Coordinator{
		cfg:      cfg,
		launcher: launcher,
		log:      log,
		slots:    slots,
		waiters:  list.New(),
	}
}

// Start warms the configured number of sessions and schedules the reclaim
// and health sweeps.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Warm(ctx); err != nil {
		c.log.Warn("Pool warm-up incomplete", logger.Error(err))
	}

	c.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if c.cfg.ReclaimInterval > 0 {
		if _, err := c.cron.AddFunc("@every "+c.cfg.ReclaimInterval.String(), func() {
			c.Reclaim()
		}); err != nil {
			return fmt.Errorf("schedule reclaim sweep: %w", err)
		}
	}
	if c.cfg.HealthInterval > 0 {
		if _, err := c.cron.AddFunc("@every "+c.cfg.HealthInterval.String(), func() {
			probeCtx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
			defer cancel()
			c.CheckHealth(probeCtx)
		}); err != nil {
			return fmt.Errorf("schedule health sweep: %w", err)
		}
	}
	c.cron.Start()

	c.log.Info("Browser pool started",
		logger.Int("max_sessions", c.cfg.MaxSessions),
		logger.Duration("session_lifetime", c.cfg.SessionLifetime),
		logger.Duration("max_idle", c.cfg.MaxIdle))
	return nil
}

// Warm launches cfg.WarmSessions sessions concurrently
func (c *Coordinator) Warm(ctx context.Context) error {
	c.mu.Lock()
	var reserved []*slot
	for len(reserved) < c.cfg.WarmSessions {
		s := c.reserveEmptyLocked(nil)
		if s == nil {
			break
		}
		reserved = append(reserved, s)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, s := range reserved {
		g.Go(func() error {
			err := s.actor.Start(ctx)
			c.mu.Lock()
			defer c.mu.Unlock()
			c.finishStartLocked(s, err)
			return err
		})
	}
	return g.Wait()
}

// Allocate returns a lease on an idle session, starting one if capacity
// remains, or queues until a session is released. It fails with
// ErrPoolExhausted when the queue timeout elapses and ErrPoolUnavailable
// when sessions repeatedly fail to launch.
func (c *Coordinator) Allocate(ctx context.Context, requestID string) (*Lease, error) {
	log := c.log.With(logger.String("request_id", requestID))
	tried := map[int]bool{}
	attempts := 0
	var lastErr error

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// queued requests go first
		if c.waiters.Len() == 0 {
			if s := c.takeIdleLocked(); s != nil {
				lease := c.newLeaseLocked(s)
				c.mu.Unlock()
				log.Debug("Allocated idle session",
					logger.Int("slot", s.index),
					logger.String("session_id", lease.SessionID()))
				return lease, nil
			}

			if attempts <= c.cfg.LaunchRetries {
				if s := c.reserveEmptyLocked(tried); s != nil {
					c.mu.Unlock()
					tried[s.index] = true
					attempts++

					lease, err := c.launchForRequest(ctx, s)
					if err == nil {
						log.Debug("Allocated new session",
							logger.Int("slot", s.index),
							logger.String("session_id", lease.SessionID()))
						return lease, nil
					}
					if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
						return nil, err
					}
					lastErr = err
					log.Warn("Session launch failed, retrying on another slot",
						logger.Int("slot", s.index),
						logger.Int("attempt", attempts),
						logger.Error(err))
					continue
				}
			} else {
				c.mu.Unlock()
				return nil, fmt.Errorf("%w: %w", ErrPoolUnavailable, lastErr)
			}
		}

		w := &waiter{
			requestID:  requestID,
			enqueuedAt: time.Now(),
			ch:         make(chan grant, 1),
		}
		elem := c.waiters.PushBack(w)
		depth := c.waiters.Len()
		c.dispatchLocked()
		c.mu.Unlock()

		log.Debug("Pool saturated, request queued", logger.Int("queue_depth", depth))
		return c.wait(ctx, w, elem)
	}
}

func (c *Coordinator) wait(ctx context.Context, w *waiter, elem *list.Element) (*Lease, error) {
	timer := time.NewTimer(c.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case g := <-w.ch:
		return g.lease, g.err
	case <-timer.C:
		return c.abandon(w, elem, fmt.Errorf("%w: waited %s", ErrPoolExhausted, c.cfg.QueueTimeout))
	case <-ctx.Done():
		return c.abandon(w, elem, ctx.Err())
	}
}

// abandon removes a timed out waiter. If the waiter was resolved while the
// timer fired, the grant wins unless the caller is gone.
func (c *Coordinator) abandon(w *waiter, elem *list.Element, cause error) (*Lease, error) {
	c.mu.Lock()
	if !w.resolved {
		w.resolved = true
		c.waiters.Remove(elem)
		c.mu.Unlock()
		return nil, cause
	}
	c.mu.Unlock()

	g := <-w.ch
	if g.lease != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		g.lease.Release()
		return nil, cause
	}
	return g.lease, g.err
}

func (c *Coordinator) launchForRequest(ctx context.Context, s *slot) (*Lease, error) {
	a := s.actor
	err := a.Start(ctx)

	c.mu.Lock()
	if c.closed && err == nil {
		s.actor = nil
		s.state = models.StateTerminated
		c.mu.Unlock()
		_ = a.Terminate()
		return nil, ErrPoolClosed
	}
	defer c.mu.Unlock()
	if err != nil {
		c.finishStartLocked(s, err)
		return nil, err
	}
	if err := s.actor.MarkBusy(); err != nil {
		c.log.Error("Fresh session refused work",
			logger.Int("slot", s.index),
			logger.Error(err))
		s.state = models.StateIdle
		c.dispatchLocked()
		return nil, err
	}
	s.state = models.StateBusy
	return c.newLeaseLocked(s), nil
}

// finishStartLocked records the outcome of a background start
func (c *Coordinator) finishStartLocked(s *slot, err error) {
	if err != nil {
		s.actor = nil
		s.state = models.StateTerminated
		return
	}
	if c.closed {
		c.retireLocked(s)
		return
	}
	s.state = models.StateIdle
	c.dispatchLocked()
}

// retireLocked empties the slot and closes its actor in the background
func (c *Coordinator) retireLocked(s *slot) {
	a := s.actor
	s.actor = nil
	s.lease = nil
	s.state = models.StateTerminated
	if a == nil {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := a.Terminate(); err != nil {
			c.log.Warn("Closing browser failed", logger.Int("slot", s.index), logger.Error(err))
		}
	}()
}

// takeIdleLocked claims a healthy idle slot. Expired idle sessions found on
// the way are sent for refresh.
func (c *Coordinator) takeIdleLocked() *slot {
	for _, s := range c.slots {
		if s.state != models.StateIdle || s.checking || s.actor == nil {
			continue
		}
		err := s.actor.MarkBusy()
		switch {
		case err == nil:
			s.state = models.StateBusy
			return s
		case errors.Is(err, session.ErrSessionExpired):
			c.refreshLocked(s)
		case errors.Is(err, session.ErrActorBusy):
			c.log.Error("Idle slot holds a busy session",
				logger.Int("slot", s.index),
				logger.String("session_id", s.actor.ID()))
		default:
			c.refreshLocked(s)
		}
	}
	return nil
}

// reserveEmptyLocked marks an empty slot Starting and gives it a fresh
// actor, preferring slots not in avoid
func (c *Coordinator) reserveEmptyLocked(avoid map[int]bool) *slot {
	var pick *slot
	for _, s := range c.slots {
		if !s.empty() {
			continue
		}
		if !avoid[s.index] {
			pick = s
			break
		}
		if pick == nil {
			pick = s
		}
	}
	if pick == nil {
		return nil
	}

	a := session.New(pick.index, c.launcher, session.Config{
		Lifetime:      c.cfg.SessionLifetime,
		LaunchTimeout: c.cfg.LaunchTimeout,
	}, c.log)
	a.OnDeadline(func(a *session.Actor) { c.deadlineReached(pick, a) })

	pick.actor = a
	pick.state = models.StateStarting
	return pick
}

// dispatchLocked hands idle sessions to queued requests in FIFO order and
// starts sessions in empty slots for whoever is still waiting
func (c *Coordinator) dispatchLocked() {
	for c.waiters.Len() > 0 {
		s := c.takeIdleLocked()
		if s == nil {
			break
		}
		w := c.waiters.Remove(c.waiters.Front()).(*waiter)
		w.resolved = true
		w.ch <- grant{lease: c.newLeaseLocked(s)}
		c.log.Debug("Queued request served",
			logger.String("request_id", w.requestID),
			logger.Int("slot", s.index),
			logger.Duration("queued", time.Since(w.enqueuedAt)))
	}

	need := c.waiters.Len() - c.countLocked(models.StateStarting) - c.countLocked(models.StateRefreshing)
	for ; need > 0; need-- {
		s := c.reserveEmptyLocked(nil)
		if s == nil {
			return
		}
		c.bg.Add(1)
		go c.startForQueue(s)
	}
}

func (c *Coordinator) startForQueue(s *slot) {
	defer c.bg.Done()
	err := s.actor.Start(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.finishStartLocked(s, err)
		c.queueLaunchErr++
		if c.queueLaunchErr > c.cfg.LaunchRetries {
			c.queueLaunchErr = 0
			c.rejectHeadLocked(fmt.Errorf("%w: %w", ErrPoolUnavailable, err))
		}
		c.dispatchLocked()
		return
	}
	c.queueLaunchErr = 0
	c.finishStartLocked(s, nil)
}

func (c *Coordinator) rejectHeadLocked(err error) {
	front := c.waiters.Front()
	if front == nil {
		return
	}
	w := c.waiters.Remove(front).(*waiter)
	w.resolved = true
	w.ch <- grant{err: err}
}

func (c *Coordinator) countLocked(state models.SessionState) int {
	n := 0
	for _, s := range c.slots {
		if s.state == state {
			n++
		}
	}
	return n
}

// refreshLocked moves an idle slot to Refreshing and relaunches it in the background
func (c *Coordinator) refreshLocked(s *slot) {
	a := s.actor
	s.lease = nil
	s.state = models.StateRefreshing
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		err := a.Refresh(context.Background())

		c.mu.Lock()
		if s.actor != a {
			// slot was retired while we relaunched
			c.mu.Unlock()
			_ = a.Terminate()
			return
		}
		if err != nil {
			c.log.Error("Session refresh failed, slot freed",
				logger.Int("slot", s.index),
				logger.Error(err))
		}
		c.finishStartLocked(s, err)
		c.dispatchLocked()
		c.mu.Unlock()
	}()
}

func (c *Coordinator) deadlineReached(s *slot, a *session.Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// busy sessions are retired on release
	if c.closed || s.actor != a || s.state != models.StateIdle || s.checking {
		return
	}
	c.log.Info("Recycling session at refresh deadline",
		logger.Int("slot", s.index),
		logger.String("session_id", a.ID()))
	c.refreshLocked(s)
}

// Release returns the session with the given id to the pool. Unknown or
// already released ids are ignored.
func (c *Coordinator) Release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.actor != nil && s.state == models.StateBusy && s.actor.ID() == sessionID {
			c.releaseLocked(s.lease)
			return
		}
	}
}

func (c *Coordinator) release(l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(l)
}

// releaseLocked frees the slot held by l. A lease that no longer owns its
// slot (released by id, or the slot was reallocated) is ignored.
func (c *Coordinator) releaseLocked(l *Lease) {
	if l == nil {
		return
	}
	s, a := l.slot, l.actor
	if s.lease != l || s.actor != a || s.state != models.StateBusy {
		return
	}
	s.lease = nil
	if err := a.MarkIdle(); err != nil {
		c.log.Error("Releasing session failed", logger.Int("slot", s.index), logger.Error(err))
		c.refreshLocked(s)
		return
	}
	s.state = models.StateIdle

	// a session past its deadline finishes its job and is then retired
	if a.Expired() {
		c.log.Info("Retiring expired session after release",
			logger.Int("slot", s.index),
			logger.String("session_id", a.ID()))
		c.refreshLocked(s)
		c.dispatchLocked()
		return
	}
	c.dispatchLocked()
}

// Reclaim terminates sessions idle longer than MaxIdle and frees their slots
func (c *Coordinator) Reclaim() int {
	now := time.Now()

	c.mu.Lock()
	var victims []*session.Actor
	for _, s := range c.slots {
		if s.state != models.StateIdle || s.checking || s.actor == nil {
			continue
		}
		if s.actor.IdleFor(now) < c.cfg.MaxIdle {
			continue
		}
		victims = append(victims, s.actor)
		s.actor = nil
		s.state = models.StateTerminated
	}
	c.mu.Unlock()

	for _, a := range victims {
		if err := a.Terminate(); err != nil {
			c.log.Warn("Closing reclaimed browser failed", logger.Error(err))
		}
	}
	if len(victims) > 0 {
		c.log.Info("Reclaimed idle sessions", logger.Int("count", len(victims)))
	}
	return len(victims)
}

// CheckHealth probes every idle session and refreshes the ones that fail.
// It returns the number of failed probes.
func (c *Coordinator) CheckHealth(ctx context.Context) int {
	type probe struct {
		slot  *slot
		actor *session.Actor
	}

	c.mu.Lock()
	var claimed []probe
	for _, s := range c.slots {
		if s.state == models.StateIdle && s.actor != nil && !s.checking {
			s.checking = true
			claimed = append(claimed, probe{slot: s, actor: s.actor})
		}
	}
	c.mu.Unlock()

	failed := 0
	for _, p := range claimed {
		s, a := p.slot, p.actor
		err := a.HealthCheck(ctx)

		c.mu.Lock()
		s.checking = false
		if s.actor == a {
			if err != nil {
				failed++
				c.refreshLocked(s)
			} else if a.Expired() {
				c.refreshLocked(s)
			}
		}
		c.dispatchLocked()
		c.mu.Unlock()
	}
	return failed
}

// Stats counts slots by state
func (c *Coordinator) Stats() models.PoolStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := models.PoolStats{
		Size:       len(c.slots),
		QueueDepth: c.waiters.Len(),
	}
	for _, s := range c.slots {
		switch s.state {
		case models.StateIdle:
			stats.Idle++
		case models.StateBusy:
			stats.Busy++
		case models.StateStarting:
			stats.Starting++
		case models.StateRefreshing:
			stats.Refreshing++
		case models.StateTerminated:
			stats.Terminated++
		}
	}
	return stats
}

// Sessions lists every slot currently holding a session
func (c *Coordinator) Sessions() []models.BrowserSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.BrowserSession, 0, len(c.slots))
	for _, s := range c.slots {
		if s.actor == nil {
			continue
		}
		snap := s.actor.Snapshot()
		snap.State = s.state
		out = append(out, snap)
	}
	return out
}

// Close rejects queued requests and closes every browser
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for c.waiters.Len() > 0 {
		c.rejectHeadLocked(ErrPoolClosed)
	}
	var actors []*session.Actor
	for _, s := range c.slots {
		if s.actor == nil || s.state == models.StateStarting || s.state == models.StateRefreshing {
			continue
		}
		actors = append(actors, s.actor)
		s.actor = nil
		s.lease = nil
		s.state = models.StateTerminated
	}
	c.mu.Unlock()

	if c.cron != nil {
		<-c.cron.Stop().Done()
	}

	var g errgroup.Group
	for _, a := range actors {
		g.Go(a.Terminate)
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.log.Info("Browser pool closed", logger.Int("closed", len(actors)))
	return err
}
