package clock

import (
	"sync"
	"time"
)

// Manual is a Clock whose timers only fire when Fire is called. Fire blocks
// until the receiver has taken the tick, which gives tests a sync point.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0)}
}

func (m *Manual) NewTimer(d time.Duration) Timer {
	t := &manualTimer{m: m, d: d, c: make(chan time.Time), stop: make(chan struct{}), armed: true}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

// Fire advances time by each armed timer's delay and delivers one tick to it.
// A timer stopped while Fire waits on it is skipped. It reports how many timers
// took their tick.
func (m *Manual) Fire() int {
	m.mu.Lock()
	var due []*manualTimer
	for _, t := range m.timers {
		if t.armed && !t.stopped {
			t.armed = false
			due = append(due, t)
		}
	}
	if len(due) > 0 {
		m.now = m.now.Add(due[0].d)
	}
	now := m.now
	m.mu.Unlock()

	n := 0
	for _, t := range due {
		select {
		case t.c <- now:
			n++
		case <-t.stop:
		}
	}
	return n
}

type manualTimer struct {
	m       *Manual
	d       time.Duration
	c       chan time.Time
	stop    chan struct{}
	armed   bool
	stopped bool
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) Reset() {
	t.m.mu.Lock()
	t.armed = true
	t.m.mu.Unlock()
}

func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
	t.m.mu.Unlock()
}

// Armed reports how many timers are waiting to fire. A timer is re-armed by
// its owner once the previous tick has been handled.
func (m *Manual) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.armed && !t.stopped {
			n++
		}
	}
	return n
}
