// Package session implements the actor that owns exactly one browser process.
//
// An Actor is reachable only through its methods; the underlying
// browser.Handle never leaves the package. State transitions:
//
//	Starting → Idle ⇄ Busy → … → Refreshing → Starting → Idle
//	                               ↘ Terminated
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

var (
	// ErrLaunch marks every browser start failure; see LaunchError
	ErrLaunch = errors.New("browser launch failed")
	// ErrActorBusy is an invariant violation: the coordinator handed out a busy session
	ErrActorBusy = errors.New("session actor is busy")
	// ErrSessionExpired means the session is past its refresh deadline
	ErrSessionExpired = errors.New("session is past its refresh deadline")
	// ErrNotRunning means the actor has no live browser in a usable state
	ErrNotRunning = errors.New("session is not running")
)

// LaunchError wraps the cause of a failed or timed out start
type LaunchError struct {
	SessionID string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch session %s: %v", e.SessionID, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunch, e.Err}
}

// Config holds lifecycle limits for one actor
type Config struct {
	// Lifetime is how long a browser may live before it is recycled
	Lifetime time.Duration
	// LaunchTimeout bounds a single start
	LaunchTimeout time.Duration
}

// Actor serializes access to one browser process
type Actor struct {
	slot     int
	launcher browser.Launcher
	cfg      Config
	log      logger.Logger

	mu              sync.Mutex
	state           models.SessionState
	id              string
	handle          browser.Handle
	createdAt       time.Time
	lastUsedAt      time.Time
	refreshDeadline time.Time
	jobs            int64
	timer           *time.Timer
	generation      uint64
	onDeadline      func(*Actor)
}

// New creates an actor for the given slot. It owns no browser until Start.
func New(slot int, launcher browser.Launcher, cfg Config, log logger.Logger) *Actor {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = browser.DefaultLaunchTimeout
	}
	return &Actor{
		slot:     slot,
		launcher: launcher,
		cfg:      cfg,
		log:      log.With(logger.Int("slot", slot)),
		state:    models.StateTerminated,
	}
}

// OnDeadline registers fn to run when the refresh deadline passes. fn runs
// on a timer goroutine without the actor lock held.
func (a *Actor) OnDeadline(fn func(*Actor)) {
	a.mu.Lock()
	a.onDeadline = fn
	a.mu.Unlock()
}

// Start launches the browser and arms the refresh timer. It is valid only
// from Terminated or Refreshing.
func (a *Actor) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != models.StateTerminated && a.state != models.StateRefreshing {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("start session in state %s: %w", state, ErrNotRunning)
	}
	id := uuid.New().String()
	a.id = id
	a.state = models.StateStarting
	a.mu.Unlock()

	launchCtx, cancel := context.WithTimeout(ctx, a.cfg.LaunchTimeout)
	defer cancel()

	started := time.Now()
	handle, err := a.launcher.Launch(launchCtx, id)
	if err != nil {
		a.mu.Lock()
		a.state = models.StateTerminated
		a.mu.Unlock()
		a.log.Error("Browser launch failed",
			logger.String("session_id", id),
			logger.Duration("elapsed", time.Since(started)),
			logger.Error(err))
		return &LaunchError{SessionID: id, Err: err}
	}

	a.mu.Lock()
	now := time.Now()
	a.handle = handle
	a.state = models.StateIdle
	a.createdAt = now
	a.lastUsedAt = now
	a.refreshDeadline = now.Add(a.cfg.Lifetime)
	a.jobs = 0
	a.armTimerLocked()
	a.mu.Unlock()

	a.log.Info("Browser session started",
		logger.String("session_id", id),
		logger.Duration("launch", time.Since(started)))
	return nil
}

func (a *Actor) armTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.cfg.Lifetime <= 0 {
		return
	}
	a.generation++
	gen := a.generation
	a.timer = time.AfterFunc(a.cfg.Lifetime, func() {
		a.mu.Lock()
		if gen != a.generation {
			a.mu.Unlock()
			return
		}
		fn := a.onDeadline
		a.mu.Unlock()

		a.log.Debug("Refresh deadline reached", logger.String("session_id", a.ID()))
		if fn != nil {
			fn(a)
		}
	})
}

func (a *Actor) disarmTimerLocked() {
	a.generation++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Attach returns the CDP endpoint for the running browser
func (a *Actor) Attach() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || (a.state != models.StateIdle && a.state != models.StateBusy) {
		return "", ErrNotRunning
	}
	return a.handle.ControlURL(), nil
}

// MarkBusy claims the actor for one job
func (a *Actor) MarkBusy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case models.StateBusy:
		return ErrActorBusy
	case models.StateIdle:
	default:
		return fmt.Errorf("mark busy in state %s: %w", a.state, ErrNotRunning)
	}
	if a.expiredLocked(time.Now()) {
		return ErrSessionExpired
	}
	a.state = models.StateBusy
	a.lastUsedAt = time.Now()
	a.jobs++
	return nil
}

// MarkIdle ends the current job
func (a *Actor) MarkIdle() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != models.StateBusy {
		return fmt.Errorf("mark idle in state %s: %w", a.state, ErrNotRunning)
	}
	a.state = models.StateIdle
	a.lastUsedAt = time.Now()
	return nil
}

// NewPage opens a tab for the current job. The actor must be Busy.
func (a *Actor) NewPage(ctx context.Context) (browser.Page, error) {
	a.mu.Lock()
	if a.state != models.StateBusy || a.handle == nil {
		a.mu.Unlock()
		return nil, ErrNotRunning
	}
	h := a.handle
	a.mu.Unlock()
	return h.NewPage(ctx)
}

// HealthCheck probes the browser. A failed probe moves the actor to
// Refreshing regardless of the deadline timer.
func (a *Actor) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return ErrNotRunning
	}

	if err := h.Ping(ctx); err != nil {
		a.mu.Lock()
		if a.handle == h {
			a.state = models.StateRefreshing
		}
		a.mu.Unlock()
		a.log.Warn("Health check failed",
			logger.String("session_id", a.ID()),
			logger.Error(err))
		return err
	}
	return nil
}

// Refresh closes the browser and launches a replacement in place
func (a *Actor) Refresh(ctx context.Context) error {
	a.mu.Lock()
	old := a.handle
	oldID := a.id
	a.handle = nil
	a.state = models.StateRefreshing
	a.disarmTimerLocked()
	a.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.log.Warn("Closing retired browser failed",
				logger.String("session_id", oldID),
				logger.Error(err))
		}
	}
	a.log.Info("Refreshing browser session", logger.String("session_id", oldID))
	return a.Start(ctx)
}

// Terminate closes the browser for good
func (a *Actor) Terminate() error {
	a.mu.Lock()
	h := a.handle
	a.handle = nil
	a.state = models.StateTerminated
	a.disarmTimerLocked()
	a.mu.Unlock()

	if h == nil {
		return nil
	}
	a.log.Info("Browser session terminated", logger.String("session_id", a.ID()))
	return h.Close()
}

// Expired reports whether the refresh deadline has passed
func (a *Actor) Expired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expiredLocked(time.Now())
}

func (a *Actor) expiredLocked(now time.Time) bool {
	return a.cfg.Lifetime > 0 && !a.refreshDeadline.IsZero() && !now.Before(a.refreshDeadline)
}

// IdleFor reports how long an idle actor has gone unused
func (a *Actor) IdleFor(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != models.StateIdle {
		return 0
	}
	return now.Sub(a.lastUsedAt)
}

func (a *Actor) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func (a *Actor) Slot() int { return a.slot }

func (a *Actor) State() models.SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot copies the actor's current view
func (a *Actor) Snapshot() models.BrowserSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := models.BrowserSession{
		ID:              a.id,
		Slot:            a.slot,
		State:           a.state,
		CreatedAt:       a.createdAt,
		LastUsedAt:      a.lastUsedAt,
		RefreshDeadline: a.refreshDeadline,
		JobsServed:      a.jobs,
	}
	if a.handle != nil {
		s.ConnectURL = a.handle.ControlURL()
	}
	return s
}
