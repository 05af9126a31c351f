package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shaneisley/placeahead/pkg/scheduler"
	"github.com/shaneisley/placeahead/pkg/selection"
	"github.com/shaneisley/placeahead/pkg/timer"
)

// replayer plays a script against a scheduler on a virtual clock. The clock
// stops at every timer deadline until the request it fired has answered, so
// responses land at the virtual time they were requested.
type replayer struct {
	clock   *timer.VirtualClock
	sched   *scheduler.Scheduler
	handler *selection.Handler
	report  func(error)

	settleTimeout time.Duration
	pollInterval  time.Duration
}

func (r *replayer) run(ctx context.Context, steps []step, tail time.Duration) error {
	start := r.clock.Now()

	for _, st := range steps {
		if err := r.advanceTo(ctx, start.Add(st.At)); err != nil {
			return err
		}
		if st.Action.Kind == actionQuit {
			return nil
		}
		if err := apply(r.sched, r.handler, st.Action); err != nil {
			r.report(fmt.Errorf("line %d: %w", st.Line, err))
		}
	}
	return r.advanceTo(ctx, r.clock.Now().Add(tail))
}

func (r *replayer) advanceTo(ctx context.Context, target time.Time) error {
	for {
		next, ok := r.clock.Next()
		if !ok || next.After(target) {
			break
		}
		r.clock.Advance(next.Sub(r.clock.Now()))
		if err := r.settle(ctx); err != nil {
			return err
		}
	}

	if d := target.Sub(r.clock.Now()); d > 0 {
		r.clock.Advance(d)
	}
	return nil
}

// settle waits in real time for the in-flight request to be applied or dropped
func (r *replayer) settle(ctx context.Context) error {
	if !r.sched.InFlight() {
		return nil
	}

	deadline := time.NewTimer(r.settleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("request still pending after %s", r.settleTimeout)
		case <-ticker.C:
			if !r.sched.InFlight() {
				return nil
			}
		}
	}
}
