package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestVirtualClock_FiresInDeadlineOrder(t *testing.T) {
	// Given a virtual clock with two callbacks scheduled out of order
	clock := NewVirtualClock(epoch)
	var fired []string
	clock.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "late") })
	clock.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })

	// When advancing past both deadlines
	clock.Advance(time.Second)

	// Then both fire in deadline order and the clock lands on the target
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, 0, clock.Pending())
}

func TestVirtualClock_StopPreventsFiring(t *testing.T) {
	clock := NewVirtualClock(epoch)
	fired := false
	h := clock.AfterFunc(100*time.Millisecond, func() { fired = true })

	assert.True(t, h.Stop())
	assert.False(t, h.Stop())
	clock.Advance(time.Second)

	assert.False(t, fired)
}

func TestVirtualClock_CallbackSeesItsDeadline(t *testing.T) {
	clock := NewVirtualClock(epoch)
	var seen time.Time
	clock.AfterFunc(250*time.Millisecond, func() { seen = clock.Now() })

	clock.Advance(time.Second)

	assert.Equal(t, epoch.Add(250*time.Millisecond), seen)
}

func TestVirtualClock_Next(t *testing.T) {
	clock := NewVirtualClock(epoch)
	_, ok := clock.Next()
	assert.False(t, ok)

	clock.AfterFunc(300*time.Millisecond, func() {})
	h := clock.AfterFunc(100*time.Millisecond, func() {})

	next, ok := clock.Next()
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(100*time.Millisecond), next)

	h.Stop()
	next, _ = clock.Next()
	assert.Equal(t, epoch.Add(300*time.Millisecond), next)
}

func TestEngine_StartInitialFiresOnce(t *testing.T) {
	// Given an engine with an initial timer of 500ms
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	count := 0
	engine.StartInitial(500*time.Millisecond, func() { count++ })

	// When less than the delay elapses
	clock.Advance(499 * time.Millisecond)

	// Then nothing fires yet
	assert.Equal(t, 0, count)

	// When the delay elapses and more time passes
	clock.Advance(5 * time.Second)

	// Then it fired exactly once
	assert.Equal(t, 1, count)
	initial, recurring := engine.Active()
	assert.False(t, initial)
	assert.False(t, recurring)
}

func TestEngine_StartInitialReplacesPrevious(t *testing.T) {
	// Given an initial timer that is restarted before it fires
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	var fires []time.Time
	onFire := func() { fires = append(fires, clock.Now()) }

	engine.StartInitial(500*time.Millisecond, onFire)
	clock.Advance(300 * time.Millisecond)
	engine.StartInitial(500*time.Millisecond, onFire)

	// When time advances well past both deadlines
	clock.Advance(2 * time.Second)

	// Then only the second timer fired, 500ms after the restart
	assert.Equal(t, []time.Time{epoch.Add(800 * time.Millisecond)}, fires)
}

func TestEngine_RecurringRearmsWhileTrue(t *testing.T) {
	// Given a recurring timer that continues for three ticks
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	ticks := 0
	engine.StartRecurring(1200*time.Millisecond, func() bool {
		ticks++
		return ticks < 3
	})

	// When plenty of time passes
	clock.Advance(10 * time.Second)

	// Then it self-terminated after the third tick
	assert.Equal(t, 3, ticks)
	_, recurring := engine.Active()
	assert.False(t, recurring)
}

func TestEngine_RecurringInterval(t *testing.T) {
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	var at []time.Duration
	engine.StartRecurring(1200*time.Millisecond, func() bool {
		at = append(at, clock.Now().Sub(epoch))
		return true
	})

	clock.Advance(3700 * time.Millisecond)

	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 2400 * time.Millisecond, 3600 * time.Millisecond}, at)
}

func TestEngine_StopAllFromInsideTick(t *testing.T) {
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	ticks := 0
	engine.StartRecurring(time.Second, func() bool {
		ticks++
		engine.StopAll()
		return true
	})

	clock.Advance(5 * time.Second)

	assert.Equal(t, 1, ticks)
	assert.Equal(t, 0, clock.Pending())
}

func TestEngine_StopAllIsIdempotent(t *testing.T) {
	// Given an engine with both timers armed
	clock := NewVirtualClock(epoch)
	engine := NewEngine(clock)
	fired := 0
	engine.StartInitial(500*time.Millisecond, func() { fired++ })
	engine.StartRecurring(time.Second, func() bool { fired++; return true })

	// When StopAll is called twice
	engine.StopAll()
	engine.StopAll()
	clock.Advance(10 * time.Second)

	// Then nothing fires and nothing is pending
	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, clock.Pending())
	initial, recurring := engine.Active()
	assert.False(t, initial)
	assert.False(t, recurring)
}

func TestEngine_StopAllWithNothingScheduled(t *testing.T) {
	engine := NewEngine(nil)
	assert.NotPanics(t, func() {
		engine.StopAll()
		engine.StopAll()
	})
}

func TestEngine_RealClockFires(t *testing.T) {
	engine := NewEngine(RealClock())
	done := make(chan struct{})
	engine.StartInitial(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("initial timer did not fire")
	}
}
