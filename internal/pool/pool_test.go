package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/internal/browser/browsertest"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/session"
)

func testConfig(size int) Config {
	return Config{
		MaxSessions:     size,
		SessionLifetime: time.Minute,
		MaxIdle:         time.Hour,
		QueueTimeout:    2 * time.Second,
		LaunchTimeout:   time.Second,
		LaunchRetries:   2,
	}
}

func newCoordinator(t *testing.T, cfg Config, launcher *browsertest.Launcher) *Coordinator {
	t.Helper()
	c := New(cfg, launcher, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func allocateAsync(c *Coordinator, id string) <-chan grant {
	ch := make(chan grant, 1)
	go func() {
		lease, err := c.Allocate(context.Background(), id)
		ch <- grant{lease: lease, err: err}
	}()
	return ch
}

func waitQueued(t *testing.T, c *Coordinator, depth int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Stats().QueueDepth == depth }, time.Second, time.Millisecond)
}

func TestAllocate_StartsSessionsUpToCapacity(t *testing.T) {
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, testConfig(2), launcher)

	a, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	b, err := c.Allocate(context.Background(), "b")
	require.NoError(t, err)

	assert.NotEqual(t, a.SessionID(), b.SessionID())
	assert.NotEqual(t, a.Slot(), b.Slot())
	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.Busy)
	assert.Equal(t, 2, launcher.Launches())

	url, err := a.ControlURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://fake/"+a.SessionID(), url)
}

func TestAllocate_ReusesIdleSession(t *testing.T) {
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, testConfig(2), launcher)

	first, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	first.Release()
	first.Release()

	second, err := c.Allocate(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID(), second.SessionID())
	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, 1, c.Stats().Busy)
}

func TestAllocate_NeverExceedsCapacity(t *testing.T) {
	const size, requests = 3, 12
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, testConfig(size), launcher)

	var busy, peak atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := c.Allocate(context.Background(), "r")
			if err != nil {
				errs <- err
				return
			}
			n := busy.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			busy.Add(-1)
			lease.Release()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("allocate failed: %v", err)
	}
	assert.LessOrEqual(t, int(peak.Load()), size)
	assert.LessOrEqual(t, launcher.Launches(), size)
	assert.Equal(t, 0, c.Stats().Busy)
}

func TestAllocate_QueuedRequestsAreServedInOrder(t *testing.T) {
	c := newCoordinator(t, testConfig(1), &browsertest.Launcher{})

	held, err := c.Allocate(context.Background(), "held")
	require.NoError(t, err)

	first := allocateAsync(c, "first")
	waitQueued(t, c, 1)
	second := allocateAsync(c, "second")
	waitQueued(t, c, 2)

	held.Release()

	var g grant
	select {
	case g = <-first:
		require.NoError(t, g.err)
	case <-time.After(time.Second):
		t.Fatal("first queued request was not served")
	}
	select {
	case <-second:
		t.Fatal("second request served before the first released")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Stats().QueueDepth)

	g.lease.Release()
	select {
	case g2 := <-second:
		require.NoError(t, g2.err)
		assert.Equal(t, held.SessionID(), g2.lease.SessionID())
		g2.lease.Release()
	case <-time.After(time.Second):
		t.Fatal("second queued request was not served")
	}
}

func TestAllocate_QueueTimeout(t *testing.T) {
	cfg := testConfig(1)
	cfg.QueueTimeout = 30 * time.Millisecond
	c := newCoordinator(t, cfg, &browsertest.Launcher{})

	held, err := c.Allocate(context.Background(), "held")
	require.NoError(t, err)
	defer held.Release()

	_, err = c.Allocate(context.Background(), "late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 0, c.Stats().QueueDepth)
}

func TestAllocate_CallerCancelsWhileQueued(t *testing.T) {
	c := newCoordinator(t, testConfig(1), &browsertest.Launcher{})

	held, err := c.Allocate(context.Background(), "held")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Allocate(ctx, "gone")
		done <- err
	}()
	waitQueued(t, c, 1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, c.Stats().QueueDepth)

	// the abandoned request must not swallow the next release
	held.Release()
	lease, err := c.Allocate(context.Background(), "next")
	require.NoError(t, err)
	lease.Release()
}

func TestAllocate_LaunchFailureRetriesOnAnotherSlot(t *testing.T) {
	launcher := &browsertest.Launcher{FailNext: 1}
	c := newCoordinator(t, testConfig(3), launcher)

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, 2, launcher.Launches())
	assert.Equal(t, 1, lease.Slot())
	stats := c.Stats()
	assert.Equal(t, 1, stats.Terminated)
	assert.Equal(t, 1, stats.Busy)
}

func TestAllocate_RepeatedLaunchFailuresSurfaceUnavailable(t *testing.T) {
	launcher := &browsertest.Launcher{FailNext: 10}
	c := newCoordinator(t, testConfig(3), launcher)

	_, err := c.Allocate(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolUnavailable)
	assert.ErrorIs(t, err, session.ErrLaunch)
	assert.Equal(t, 3, launcher.Launches())
}

func TestAllocate_SingleSlotRetriesSameSlot(t *testing.T) {
	launcher := &browsertest.Launcher{FailNext: 10}
	c := newCoordinator(t, testConfig(1), launcher)

	_, err := c.Allocate(context.Background(), "a")
	assert.ErrorIs(t, err, ErrPoolUnavailable)
	assert.Equal(t, 3, launcher.Launches())
}

func TestRelease_ExpiredSessionIsReplaced(t *testing.T) {
	cfg := testConfig(1)
	cfg.SessionLifetime = 30 * time.Millisecond
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, cfg, launcher)

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// still busy: the deadline does not interrupt the job
	assert.Equal(t, 1, c.Stats().Busy)
	assert.False(t, launcher.Handles()[0].IsClosed())

	lease.Release()
	require.Eventually(t, func() bool {
		return launcher.Handles()[0].IsClosed() && launcher.Launches() >= 2
	}, time.Second, time.Millisecond)

	next, err := c.Allocate(context.Background(), "b")
	require.NoError(t, err)
	defer next.Release()
	assert.NotEqual(t, lease.SessionID(), next.SessionID())
}

func TestDeadline_IdleSessionIsRefreshedInPlace(t *testing.T) {
	cfg := testConfig(1)
	cfg.SessionLifetime = 30 * time.Millisecond
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, cfg, launcher)

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	lease.Release()

	require.Eventually(t, func() bool {
		return launcher.Handles()[0].IsClosed() && launcher.Launches() >= 2
	}, time.Second, time.Millisecond)
}

func TestAllocate_ExpiredIdleSessionIsNotHandedOut(t *testing.T) {
	cfg := testConfig(2)
	cfg.SessionLifetime = 30 * time.Millisecond
	c := newCoordinator(t, cfg, &browsertest.Launcher{})

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	lease.Release()
	time.Sleep(40 * time.Millisecond)

	next, err := c.Allocate(context.Background(), "b")
	require.NoError(t, err)
	defer next.Release()
	assert.NotEqual(t, lease.SessionID(), next.SessionID())
}

func TestReclaim_TerminatesLongIdleSessions(t *testing.T) {
	cfg := testConfig(2)
	cfg.MaxIdle = 10 * time.Millisecond
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, cfg, launcher)

	idle, err := c.Allocate(context.Background(), "idle")
	require.NoError(t, err)
	busy, err := c.Allocate(context.Background(), "busy")
	require.NoError(t, err)
	idle.Release()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, c.Reclaim())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Terminated)
	assert.Equal(t, 1, stats.Busy)
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 1, launcher.Closed())

	busy.Release()
	assert.Equal(t, 0, c.Reclaim())

	again, err := c.Allocate(context.Background(), "again")
	require.NoError(t, err)
	again.Release()
}

func TestCheckHealth_RefreshesFailingSession(t *testing.T) {
	launcher := &browsertest.Launcher{}
	c := newCoordinator(t, testConfig(1), launcher)

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	lease.Release()

	assert.Equal(t, 0, c.CheckHealth(context.Background()))

	launcher.Handles()[0].FailPing(errors.New("target crashed"))
	assert.Equal(t, 1, c.CheckHealth(context.Background()))

	require.Eventually(t, func() bool {
		return launcher.Launches() == 2 && c.Stats().Idle == 1
	}, time.Second, time.Millisecond)
}

func TestRelease_BySessionID(t *testing.T) {
	c := newCoordinator(t, testConfig(1), &browsertest.Launcher{})

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)

	c.Release("unknown")
	assert.Equal(t, 1, c.Stats().Busy)

	c.Release(lease.SessionID())
	assert.Equal(t, 1, c.Stats().Idle)

	// the lease handle no longer owns the session
	lease.Release()
	assert.Equal(t, 1, c.Stats().Idle)
}

func TestRelease_StaleLeaseCannotFreeReallocatedSession(t *testing.T) {
	cfg := testConfig(1)
	cfg.QueueTimeout = 100 * time.Millisecond
	c := newCoordinator(t, cfg, &browsertest.Launcher{})

	first, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	c.Release(first.SessionID())

	second, err := c.Allocate(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, first.SessionID(), second.SessionID())

	// the first holder lets go late, after its session was handed on
	first.Release()
	assert.Equal(t, 1, c.Stats().Busy)

	third, err := c.Allocate(context.Background(), "c")
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Nil(t, third)

	second.Release()
	assert.Equal(t, 1, c.Stats().Idle)
}

func TestSessions_ListsSnapshots(t *testing.T) {
	c := newCoordinator(t, testConfig(3), &browsertest.Launcher{})

	lease, err := c.Allocate(context.Background(), "a")
	require.NoError(t, err)
	defer lease.Release()

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, lease.SessionID(), sessions[0].ID)
	assert.Equal(t, "BUSY", string(sessions[0].State))
	assert.Equal(t, int64(1), sessions[0].JobsServed)
}

func TestWarm_StartsSessionsConcurrently(t *testing.T) {
	cfg := testConfig(4)
	cfg.WarmSessions = 3
	launcher := &browsertest.Launcher{Delay: 20 * time.Millisecond}
	c := newCoordinator(t, cfg, launcher)

	start := time.Now()
	require.NoError(t, c.Warm(context.Background()))

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 3, c.Stats().Idle)
}

func TestClose_RejectsQueuedAndFutureRequests(t *testing.T) {
	launcher := &browsertest.Launcher{}
	c := New(testConfig(1), launcher, logger.NewNop())

	_, err := c.Allocate(context.Background(), "held")
	require.NoError(t, err)

	queued := allocateAsync(c, "queued")
	waitQueued(t, c, 1)

	require.NoError(t, c.Close(context.Background()))

	g := <-queued
	assert.ErrorIs(t, g.err, ErrPoolClosed)
	assert.Equal(t, 1, launcher.Closed())

	_, err = c.Allocate(context.Background(), "late")
	assert.ErrorIs(t, err, ErrPoolClosed)
}
