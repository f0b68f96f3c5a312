package pool

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/session"
)

// Lease is exclusive use of one pooled session until Release
type Lease struct {
	c         *Coordinator
	slot      *slot
	actor     *session.Actor
	sessionID string
	once      sync.Once
}

func (c *Coordinator) newLeaseLocked(s *slot) *Lease {
	l := &Lease{
		c:         c,
		slot:      s,
		actor:     s.actor,
		sessionID: s.actor.ID(),
	}
	s.lease = l
	return l
}

func (l *Lease) SessionID() string { return l.sessionID }

func (l *Lease) Slot() int { return l.slot.index }

// ControlURL is the CDP endpoint of the leased browser
func (l *Lease) ControlURL() (string, error) {
	return l.actor.Attach()
}

// NewPage opens a tab in the leased browser
func (l *Lease) NewPage(ctx context.Context) (browser.Page, error) {
	return l.actor.NewPage(ctx)
}

// Release hands the session back. Calling it more than once, or after the
// session was released by id, is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.release(l)
	})
}
