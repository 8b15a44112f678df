// Package location provides the daemon's position source. The device UI
// pushes fixes as the platform produces them; capture flows read the
// freshest fix, waiting for a new one when the cached fix is stale.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/londonpesquisas/fieldsync/internal/capture"
)

// ErrNoFix is returned when no acceptably fresh position arrives within the
// request timeout.
var ErrNoFix = errors.New("no position fix available")

// Cache is a one-slot position feed implementing capture.LocationProvider.
// Set is called by the feed side (the local API); Current by capture flows.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	fix     capture.Position
	haveFix bool
	waiters map[chan capture.Position]struct{}
}

func NewCache() *Cache {
	return &Cache{waiters: make(map[chan capture.Position]struct{})}
}

// Set records a fix and wakes any flow waiting for one. A zero timestamp is
// stamped with the current time.
func (c *Cache) Set(pos capture.Position) {
	if pos.Timestamp.IsZero() {
		pos.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fix = pos
	c.haveFix = true
	for w := range c.waiters {
		w <- pos // buffered; never blocks
		delete(c.waiters, w)
	}
}

// Current returns the cached fix if it is younger than opts.MaxAge,
// otherwise waits up to opts.Timeout for the next Set.
func (c *Cache) Current(ctx context.Context, opts capture.LocationOptions) (capture.Position, error) {
	c.mu.Lock()
	if c.haveFix && time.Since(c.fix.Timestamp) <= opts.MaxAge {
		pos := c.fix
		c.mu.Unlock()
		return pos, nil
	}
	w := make(chan capture.Position, 1)
	c.waiters[w] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, w)
		c.mu.Unlock()
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pos := <-w:
		return pos, nil
	case <-timer.C:
		return capture.Position{}, ErrNoFix
	case <-ctx.Done():
		return capture.Position{}, ctx.Err()
	}
}
