// Package motion turns one move/turn into bounded per-tick steps and
// reconciles the predicted pose with authoritative corrections.
//
// A Controller is not safe for concurrent use; the actor drives it from a
// single goroutine.
package motion

import (
	"errors"
	"math"
)

// Transport delivers outbound messages.
type Transport interface {
	Send(v any) error
}

// arriveEps lets a remaining distance a hair above maxStep (float noise from
// earlier partial steps) finish in one step.
const arriveEps = 1e-9

type Controller struct {
	tr      Transport
	maxStep float64

	pos    Position
	target *Position
	fut    *Future
	ticks  int

	ready   bool
	onReady func(Position)
}

func NewController(tr Transport, maxStep float64) *Controller {
	if maxStep <= 0 {
		maxStep = 0.5
	}
	if tr == nil {
		tr = nopTransport{}
	}
	return &Controller{tr: tr, maxStep: maxStep}
}

func (c *Controller) Position() Position { return c.pos }
func (c *Controller) MaxStep() float64   { return c.maxStep }
func (c *Controller) Busy() bool         { return c.target != nil }
func (c *Controller) Ready() bool        { return c.ready }

// Target returns the in-flight target, if any.
func (c *Controller) Target() (Position, bool) {
	if c.target == nil {
		return Position{}, false
	}
	return *c.target, true
}

func (c *Controller) SetMaxStep(m float64) {
	if m > 0 && !math.IsInf(m, 0) && !math.IsNaN(m) {
		c.maxStep = m
	}
}

// OnReady registers fn to run on the first authoritative position of each
// connection.
func (c *Controller) OnReady(fn func(Position)) { c.onReady = fn }

// MoveTo starts a motion to the current position plus d. Any in-flight motion
// resolves false first. A request with no translation applies the rotation
// and resolves true at once.
func (c *Controller) MoveTo(d Delta) *Future {
	c.cancel()
	tgt := c.pos.Add(d)
	if tgt.sameSpot(c.pos) {
		c.pos = tgt
		return Resolved(true)
	}
	c.target = &tgt
	c.fut = newFuture()
	c.ticks = 0
	return c.fut
}

// Cancel resolves the in-flight motion false. It reports whether one existed.
func (c *Controller) Cancel() bool {
	return c.cancel()
}

func (c *Controller) cancel() bool {
	if c.fut == nil {
		return false
	}
	c.fut.resolve(false, c.ticks)
	c.fut = nil
	c.target = nil
	c.ticks = 0
	return true
}

// Correct applies an authoritative position. When it differs from the
// prediction the in-flight motion is cancelled and p becomes current. The
// position is echoed back as acknowledgement. It reports whether p differed.
func (c *Controller) Correct(p Position) (bool, error) {
	differed := p != c.pos
	if differed {
		c.cancel()
		c.pos = p
	}
	firstReady := !c.ready
	c.ready = true
	err := c.tr.Send(c.pos.Msg())
	if firstReady && c.onReady != nil {
		c.onReady(c.pos)
	}
	return differed, err
}

// Detach is called when the connection drops. The in-flight motion is
// cancelled and the next authoritative position fires ready again.
func (c *Controller) Detach() {
	c.cancel()
	c.ready = false
}

// Tick advances the in-flight motion by at most one step and sends the current
// position. Until the first authoritative position of a connection arrives the
// local one is stale, so nothing is sent. It reports whether the avatar moved.
func (c *Controller) Tick() (bool, error) {
	moved := false
	if c.target != nil {
		if c.pos == *c.target {
			c.arrive()
		} else {
			moved = c.step()
		}
	}
	var err error
	if c.ready {
		err = c.tr.Send(c.pos.Msg())
	}
	if c.target != nil && c.pos == *c.target {
		c.arrive()
	}
	return moved, err
}

func (c *Controller) step() bool {
	t := *c.target
	dx := t.X - c.pos.X
	dy := t.Y - c.pos.Y
	dz := t.Z - c.pos.Z
	norm := math.Sqrt(dx*dx + dy*dy + dz*dz)

	prev := c.pos
	c.pos.Yaw = t.Yaw
	c.pos.Pitch = t.Pitch
	c.pos.OnGround = t.OnGround
	// A norm that underflows to zero would give a NaN direction; snap instead.
	if norm == 0 || norm <= c.maxStep*(1+arriveEps) {
		c.pos = t
	} else {
		f := c.maxStep / norm
		c.pos.X += dx * f
		c.pos.Y += dy * f
		c.pos.Z += dz * f
		c.pos.Stance += dy * f
	}
	c.ticks++
	return !prev.sameSpot(c.pos)
}

func (c *Controller) arrive() {
	f := c.fut
	ticks := c.ticks
	c.fut = nil
	c.target = nil
	c.ticks = 0
	if f != nil {
		f.resolve(true, ticks)
	}
}

// ErrNoTransport is returned by a Controller built without a transport.
var ErrNoTransport = errors.New("motion: no transport")

type nopTransport struct{}

func (nopTransport) Send(any) error { return ErrNoTransport }
