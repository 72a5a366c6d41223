// Package clock provides the re-armable tick timer the actor runs on.
package clock

import "time"

// Clock creates timers. Each timer fires once per arm; the owner re-arms it
// after handling a tick so that slow ticks never queue up.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

type Timer interface {
	C() <-chan time.Time
	// Reset re-arms the timer with its original delay.
	Reset()
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d), d: d}
}

type realTimer struct {
	t *time.Timer
	d time.Duration
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Reset() {
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
	r.t.Reset(r.d)
}

func (r *realTimer) Stop() { r.t.Stop() }
