package motion

import (
	"context"
	"math"
	"testing"
	"time"

	"turtlecraft.ai/internal/protocol"
)

type recorder struct {
	sent []any
}

func (r *recorder) Send(v any) error {
	r.sent = append(r.sent, v)
	return nil
}

func (r *recorder) positions() []protocol.PositionMsg {
	var out []protocol.PositionMsg
	for _, v := range r.sent {
		if p, ok := v.(protocol.PositionMsg); ok {
			out = append(out, p)
		}
	}
	return out
}

func runUntilDone(t *testing.T, c *Controller, f *Future, limit int) int {
	t.Helper()
	for i := 0; i < limit; i++ {
		select {
		case <-f.Done():
			return i
		default:
		}
		if _, err := c.Tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	select {
	case <-f.Done():
		return limit
	default:
		t.Fatalf("future not resolved after %d ticks", limit)
	}
	return -1
}

func TestMoveTo_TicksAreCeilDistanceOverStep(t *testing.T) {
	cases := []struct {
		d    Delta
		step float64
		want int
	}{
		{Delta{Z: 1}, 0.5, 2},
		{Delta{Z: 1.2}, 0.5, 3},
		{Delta{X: 3, Z: 4}, 1, 5},
		{Delta{X: -2}, 0.3, 7},
		{Delta{Y: 0.25}, 0.5, 1},
		{Delta{X: 1, Y: 1, Z: 1}, 0.1, 18},
	}
	for _, tc := range cases {
		c := NewController(&recorder{}, tc.step)
		f := c.MoveTo(tc.d)
		runUntilDone(t, c, f, 1000)
		if !f.Result() {
			t.Fatalf("%+v: expected arrival", tc.d)
		}
		if f.Ticks() != tc.want {
			t.Fatalf("%+v step=%v: ticks=%d want=%d", tc.d, tc.step, f.Ticks(), tc.want)
		}
		want := Position{}.Add(tc.d)
		if c.Position() != want {
			t.Fatalf("final position %+v want %+v", c.Position(), want)
		}
		if c.Busy() {
			t.Fatalf("controller still busy after arrival")
		}
	}
}

func TestMoveTo_ZeroTranslationResolvesImmediately(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	f := c.MoveTo(Delta{Yaw: 90})
	select {
	case <-f.Done():
	default:
		t.Fatalf("turn should resolve without ticking")
	}
	if !f.Result() || f.Ticks() != 0 {
		t.Fatalf("result=%v ticks=%d", f.Result(), f.Ticks())
	}
	if c.Position().Yaw != 90 {
		t.Fatalf("yaw=%v want=90", c.Position().Yaw)
	}
}

func TestMoveTo_RotationSnapsOnFirstStep(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	f := c.MoveTo(Delta{Z: 2, Yaw: 45, Pitch: -10})
	if _, err := c.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	p := c.Position()
	if p.Yaw != 45 || p.Pitch != -10 {
		t.Fatalf("rotation not snapped: %+v", p)
	}
	if p.Z != 0.5 {
		t.Fatalf("z=%v want=0.5", p.Z)
	}
	runUntilDone(t, c, f, 10)
}

func TestMoveTo_StanceTracksY(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	start := Position{Y: 64, Stance: 65.62}
	if _, err := c.Correct(start); err != nil {
		t.Fatalf("correct: %v", err)
	}
	f := c.MoveTo(Delta{Y: 2})
	c.Tick()
	p := c.Position()
	if off := p.Stance - p.Y; math.Abs(off-1.62) > 1e-9 {
		t.Fatalf("stance offset drifted: y=%v stance=%v", p.Y, p.Stance)
	}
	runUntilDone(t, c, f, 10)
	if want := start.Stance + 2; c.Position().Stance != want {
		t.Fatalf("stance=%v want=%v", c.Position().Stance, want)
	}
}

func TestMoveTo_ReplacementCancelsPrevious(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	first := c.MoveTo(Delta{Z: 10})
	c.Tick()
	second := c.MoveTo(Delta{X: 1})
	select {
	case <-first.Done():
	default:
		t.Fatalf("first future should resolve on replacement")
	}
	if first.Result() {
		t.Fatalf("replaced future should resolve false")
	}
	runUntilDone(t, c, second, 10)
	// The new target is relative to where the avatar was, not the old target.
	if got := c.Position(); got.X != 1 || got.Z != 0.5 {
		t.Fatalf("position=%+v", got)
	}
}

func TestCorrect_CancelsAndAdopts(t *testing.T) {
	r := &recorder{}
	c := NewController(r, 0.5)
	f := c.MoveTo(Delta{Z: 5})
	c.Tick()
	c.Tick()

	auth := Position{X: 7.25, Y: 70, Z: -3, Stance: 71.62, Yaw: 12, OnGround: true}
	differed, err := c.Correct(auth)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if !differed {
		t.Fatalf("expected correction to differ")
	}
	if f.Result() {
		t.Fatalf("corrected motion should resolve false")
	}
	if c.Position() != auth {
		t.Fatalf("position=%+v want=%+v", c.Position(), auth)
	}
	if c.Busy() {
		t.Fatalf("target should be cleared")
	}
	last := r.positions()[len(r.positions())-1]
	if FromMsg(last) != auth {
		t.Fatalf("correction not echoed: %+v", last)
	}
}

func TestCorrect_MatchingPositionKeepsMotion(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	f := c.MoveTo(Delta{Z: 1})
	c.Tick()
	differed, _ := c.Correct(c.Position())
	if differed {
		t.Fatalf("identical position reported as differing")
	}
	if !c.Busy() {
		t.Fatalf("motion should continue")
	}
	runUntilDone(t, c, f, 5)
	if !f.Result() {
		t.Fatalf("expected arrival")
	}
}

func TestOnReady_FiresOncePerConnection(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	n := 0
	c.OnReady(func(Position) { n++ })
	c.Correct(Position{X: 1})
	c.Correct(Position{X: 2})
	if n != 1 {
		t.Fatalf("ready fired %d times", n)
	}
	f := c.MoveTo(Delta{X: 3})
	c.Detach()
	if f.Result() {
		t.Fatalf("detach should cancel motion")
	}
	if c.Ready() {
		t.Fatalf("ready should clear on detach")
	}
	c.Correct(Position{X: 2})
	if n != 2 {
		t.Fatalf("ready should fire again after reconnect, n=%d", n)
	}
}

func TestTick_SendsOnlyWhenReady(t *testing.T) {
	r := &recorder{}
	c := NewController(r, 0.5)
	for i := 0; i < 3; i++ {
		moved, err := c.Tick()
		if err != nil || moved {
			t.Fatalf("idle tick: moved=%v err=%v", moved, err)
		}
	}
	if n := len(r.positions()); n != 0 {
		t.Fatalf("sent %d positions before the first correction", n)
	}

	c.Correct(Position{X: 1})
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if n := len(r.positions()); n != 4 {
		t.Fatalf("sent=%d want=4 (echo plus three ticks)", n)
	}

	c.Detach()
	c.Tick()
	if n := len(r.positions()); n != 4 {
		t.Fatalf("sent=%d after detach, want=4", n)
	}
}

func TestStep_NoNaN(t *testing.T) {
	c := NewController(&recorder{}, 0.5)
	f := c.MoveTo(Delta{Z: 1e-300})
	runUntilDone(t, c, f, 3)
	p := c.Position()
	if math.IsNaN(p.X) || math.IsNaN(p.Z) {
		t.Fatalf("NaN position: %+v", p)
	}
}

func TestFuture_Wait(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	f.resolve(true, 4)
	f.resolve(false, 9)
	ok, err := f.Wait(context.Background())
	if err != nil || !ok || f.Ticks() != 4 {
		t.Fatalf("ok=%v err=%v ticks=%d", ok, err, f.Ticks())
	}
}
