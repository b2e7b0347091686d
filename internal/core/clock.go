package core

import (
	"sync"
	"time"
)

// Clock supplies logical time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

// clockGuard keeps the engine's view of time non-decreasing. A reading
// earlier than the last one is clamped to the last one and counted.
// Not thread-safe; only accessed under the engine's writer lock.
type clockGuard struct {
	last        int64
	regressions int64
}

func (g *clockGuard) observe(now int64) int64 {
	if now < g.last {
		g.regressions++
		return g.last
	}
	g.last = now
	return now
}
