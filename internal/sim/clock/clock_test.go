package clock

import (
	"testing"
	"time"
)

func TestManual_FiresOnlyWhenArmed(t *testing.T) {
	m := NewManual()
	tm := m.NewTimer(50 * time.Millisecond)

	got := make(chan time.Time, 1)
	go func() { got <- <-tm.C() }()
	if n := m.Fire(); n != 1 {
		t.Fatalf("fired=%d want=1", n)
	}
	if ts := <-got; !ts.Equal(time.Unix(0, 0).Add(50 * time.Millisecond)) {
		t.Fatalf("tick time=%v", ts)
	}
	if n := m.Fire(); n != 0 {
		t.Fatalf("unarmed timer fired")
	}
	if m.Armed() != 0 {
		t.Fatalf("armed=%d want=0", m.Armed())
	}
	tm.Reset()
	if m.Armed() != 1 {
		t.Fatalf("armed=%d want=1 after Reset", m.Armed())
	}
	tm.Stop()
	if n := m.Fire(); n != 0 {
		t.Fatalf("stopped timer fired")
	}
}

func TestManual_StopReleasesPendingFire(t *testing.T) {
	m := NewManual()
	tm := m.NewTimer(time.Millisecond)

	fired := make(chan int, 1)
	go func() { fired <- m.Fire() }()
	// Nobody receives the tick; the owner goes away instead.
	time.Sleep(10 * time.Millisecond)
	tm.Stop()
	select {
	case n := <-fired:
		if n != 0 {
			t.Fatalf("fired=%d want=0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Fire blocked after the timer was stopped")
	}
	tm.Stop()
}

func TestReal_Reset(t *testing.T) {
	tm := Real{}.NewTimer(5 * time.Millisecond)
	defer tm.Stop()
	select {
	case <-tm.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	tm.Reset()
	select {
	case <-tm.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire after Reset")
	}
}
