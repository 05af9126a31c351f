// Package timer schedules the initial and recurring checks of an input session.
package timer

import (
	"sync"
	"time"
)

// Engine owns at most one initial timer and at most one recurring timer.
// Starting a timer of either kind first stops the existing one of that kind.
type Engine struct {
	clock Clock

	mu        sync.Mutex
	initial   Handle
	recurring Handle
	// generations invalidate callbacks whose Stop lost the race with firing
	initialGen   uint64
	recurringGen uint64
}

// NewEngine creates a timer engine on the given clock
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = RealClock()
	}
	return &Engine{clock: clock}
}

// Clock returns the engine's clock
func (e *Engine) Clock() Clock {
	return e.clock
}

// StartInitial schedules onFire once after delay
func (e *Engine) StartInitial(delay time.Duration, onFire func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopInitialLocked()
	gen := e.initialGen
	e.initial = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		if gen != e.initialGen {
			e.mu.Unlock()
			return
		}
		e.initial = nil
		e.mu.Unlock()

		onFire()
	})
}

// StartRecurring calls onTick every interval. The timer re-arms after a tick
// only while onTick returns true.
func (e *Engine) StartRecurring(interval time.Duration, onTick func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopRecurringLocked()
	e.armRecurringLocked(e.recurringGen, interval, onTick)
}

func (e *Engine) armRecurringLocked(gen uint64, interval time.Duration, onTick func() bool) {
	e.recurring = e.clock.AfterFunc(interval, func() {
		e.mu.Lock()
		if gen != e.recurringGen {
			e.mu.Unlock()
			return
		}
		e.recurring = nil
		e.mu.Unlock()

		if !onTick() {
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		// a stop or restart during onTick owns the slot now
		if gen == e.recurringGen && e.recurring == nil {
			e.armRecurringLocked(gen, interval, onTick)
		}
	})
}

// StopAll cancels every pending timer. Safe to call when nothing is scheduled.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopInitialLocked()
	e.stopRecurringLocked()
}

// Active reports whether an initial or recurring timer is armed
func (e *Engine) Active() (initial, recurring bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initial != nil, e.recurring != nil
}

func (e *Engine) stopInitialLocked() {
	e.initialGen++
	if e.initial != nil {
		e.initial.Stop()
		e.initial = nil
	}
}

func (e *Engine) stopRecurringLocked() {
	e.recurringGen++
	if e.recurring != nil {
		e.recurring.Stop()
		e.recurring = nil
	}
}
