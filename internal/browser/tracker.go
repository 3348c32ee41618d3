// internal/browser/tracker.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Tracker wraps an Automation, caps the number of open contexts and counts
// every context it hands out so leaks are observable.
type Tracker struct {
	inner Automation
	slots chan struct{}

	mu     sync.RWMutex
	closed bool

	live   atomic.Int64
	opened atomic.Int64
	closes atomic.Int64
}

// NewTracker creates a tracker. maxContexts <= 0 means unlimited.
func NewTracker(inner Automation, maxContexts int) *Tracker {
	t := &Tracker{inner: inner}
	if maxContexts > 0 {
		t.slots = make(chan struct{}, maxContexts)
	}
	return t
}

// NewContext waits for a free slot and opens a context on the wrapped automation.
func (t *Tracker) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, fmt.Errorf("browser tracker is closed")
	}
	t.mu.RUnlock()

	if t.slots != nil {
		select {
		case t.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inner, err := t.inner.NewContext(ctx, opts)
	if err != nil {
		t.freeSlot()
		return nil, err
	}

	t.live.Add(1)
	t.opened.Add(1)
	return &trackedContext{Context: inner, tracker: t}, nil
}

func (t *Tracker) freeSlot() {
	if t.slots != nil {
		<-t.slots
	}
}

// Live returns the number of contexts currently open.
func (t *Tracker) Live() int {
	return int(t.live.Load())
}

// Stats returns lifetime counters.
func (t *Tracker) Stats() BrowserStats {
	return BrowserStats{
		ContextsOpened: t.opened.Load(),
		ContextsClosed: t.closes.Load(),
		LiveContexts:   t.Live(),
		MaxContexts:    cap(t.slots),
	}
}

// Close refuses new contexts. Open contexts stay owned by their tasks.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type trackedContext struct {
	Context
	tracker *Tracker
	once    sync.Once
	err     error
}

func (c *trackedContext) Close() error {
	c.once.Do(func() {
		c.err = c.Context.Close()
		c.tracker.live.Add(-1)
		c.tracker.closes.Add(1)
		c.tracker.freeSlot()
	})
	return c.err
}
