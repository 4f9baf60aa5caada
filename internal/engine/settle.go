package engine

import (
	"context"
	"sync"
)

// Counts tracks started and finished renders. Both only grow. Waiters are
// woken whenever either changes.
type Counts struct {
	mu       sync.Mutex
	started  int64
	finished int64
	changed  chan struct{}
}

func newCounts() *Counts {
	return &Counts{changed: make(chan struct{})}
}

// broadcast must be called with mu held.
func (c *Counts) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Start records a render attempt.
func (c *Counts) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	c.broadcast()
}

// Finish records a settled render and reports whether every started render
// has now finished.
func (c *Counts) Finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
	c.broadcast()
	return c.started == c.finished
}

// Snapshot returns both counters.
func (c *Counts) Snapshot() (started, finished int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.finished
}

// Settled reports whether renders have started and all of them finished.
func (c *Counts) Settled() bool {
	s, f := c.Snapshot()
	return s > 0 && s == f
}

// Wait blocks until the counters satisfy the settled predicate or ctx is
// done. With allowIdle, zero started renders also counts as settled.
func (c *Counts) Wait(ctx context.Context, allowIdle bool) error {
	for {
		c.mu.Lock()
		done := c.started == c.finished && (allowIdle || c.started > 0)
		changed := c.changed
		c.mu.Unlock()

		if done {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
