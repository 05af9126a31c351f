package timer

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the engine and the scheduler
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// Handle cancels a pending callback
type Handle interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or was already stopped.
	Stop() bool
}

// RealClock returns a Clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// VirtualClock is a manually advanced clock. Callbacks run synchronously on
// the goroutine calling Advance, in deadline order.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*virtualTimer
}

type virtualTimer struct {
	clock *VirtualClock
	when  time.Time
	seq   uint64
	fn    func()
}

// NewVirtualClock creates a virtual clock starting at start
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the current virtual time
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d
func (c *VirtualClock) AfterFunc(d time.Duration, f func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &virtualTimer{clock: c, when: c.now.Add(d), seq: c.seq, fn: f}
	c.pending = append(c.pending, t)
	return t
}

// Pending returns the number of callbacks waiting to fire
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Next returns the deadline of the earliest pending callback
func (c *VirtualClock) Next() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return time.Time{}, false
	}
	next := c.pending[0].when
	for _, t := range c.pending[1:] {
		if t.when.Before(next) {
			next = t.when
		}
	}
	return next, true
}

// Advance moves the clock forward by d, firing every callback that falls due.
// Callbacks scheduled by fired callbacks are honoured within the same call.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.when
		c.mu.Unlock()

		next.fn()
	}
}

func (c *VirtualClock) popDueLocked(target time.Time) *virtualTimer {
	if len(c.pending) == 0 {
		return nil
	}
	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].when.Equal(c.pending[j].when) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].when.Before(c.pending[j].when)
	})
	head := c.pending[0]
	if head.when.After(target) {
		return nil
	}
	c.pending = c.pending[1:]
	return head
}

func (t *virtualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}
