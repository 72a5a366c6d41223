package actor

import (
	"math"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/sim/motion"
	"turtlecraft.ai/internal/sim/pen"
	"turtlecraft.ai/internal/sim/scheduler"
)

// advance dispatches instructions until one has to wait on motion, the queue
// runs dry or the session is not ready. Only one pass runs at a time.
func (a *Actor) advance() {
	if a.advancing || a.inflight != nil || !a.ctl.Ready() {
		return
	}
	a.advancing = true
	defer func() { a.advancing = false }()

	for {
		st, ok := a.sched.Next()
		a.flushFinished()
		if !ok {
			return
		}
		fut := a.dispatch(st)
		select {
		case <-fut.Done():
			a.resolved(st, fut)
			if !fut.Result() {
				a.abort()
			}
		default:
			a.inflight = fut
			a.step = st
			return
		}
	}
}

// settle picks up a motion that resolved during the last tick or correction
// and continues with the next instruction.
func (a *Actor) settle() {
	if a.inflight == nil {
		return
	}
	select {
	case <-a.inflight.Done():
	default:
		return
	}
	fut, st := a.inflight, a.step
	a.inflight = nil
	a.step = scheduler.Step{}
	a.resolved(st, fut)
	if !fut.Result() {
		a.log.Printf("instruction %s cancelled after %d ticks", st.Command, fut.Ticks())
		a.abort()
	}
	a.advance()
}

func (a *Actor) abort() {
	e, ok := a.sched.Abort()
	if !ok {
		return
	}
	a.rec.Record(Event{
		Time:    a.cfg.Now(),
		Kind:    EventAborted,
		Agent:   a.cfg.Name,
		EntryID: e.ID,
		Source:  e.Source,
		Text:    e.Text,
	})
}

func (a *Actor) flushFinished() {
	for _, e := range a.sched.TakeFinished() {
		a.rec.Record(Event{
			Time:    a.cfg.Now(),
			Kind:    EventCompleted,
			Agent:   a.cfg.Name,
			EntryID: e.ID,
			Source:  e.Source,
			Text:    e.Text,
		})
	}
}

func (a *Actor) resolved(st scheduler.Step, fut *motion.Future) {
	a.executed++
	c := st.Command
	arg := c.Arg
	if c.Op == logo.OpSetPen {
		arg = float64(c.Item)
	}
	a.rec.Record(Event{
		Time:    a.cfg.Now(),
		Kind:    EventInstruction,
		Agent:   a.cfg.Name,
		EntryID: st.EntryID,
		Seq:     st.Seq,
		Op:      c.Op.String(),
		Arg:     arg,
		OK:      fut.Result(),
		Ticks:   fut.Ticks(),
	})
}

// dispatch starts one atomic instruction. Pen instructions complete at once.
func (a *Actor) dispatch(st scheduler.Step) *motion.Future {
	c := st.Command
	switch c.Op {
	case logo.OpForward:
		return a.ctl.MoveTo(heading(a.ctl.Position().Yaw, c.Arg))
	case logo.OpBack:
		return a.ctl.MoveTo(heading(a.ctl.Position().Yaw, -c.Arg))
	case logo.OpLeft:
		return a.ctl.MoveTo(motion.Delta{Yaw: c.Arg})
	case logo.OpRight:
		return a.ctl.MoveTo(motion.Delta{Yaw: -c.Arg})
	case logo.OpPenUp:
		a.pen.Down = false
	case logo.OpPenDown:
		a.pen.Down = true
		a.drawn = false
		a.draw()
	case logo.OpSetPen:
		a.pen.Item = c.Item
		a.pen.Uses = c.Uses
		if err := a.tr.Send(pen.Configure(a.pen)); err != nil {
			a.log.Printf("setpen: %v", err)
		}
	}
	return motion.Resolved(true)
}

// heading converts a distance along yaw into a world displacement. Yaw 0
// faces +Z.
func heading(yaw, d float64) motion.Delta {
	r := yaw * math.Pi / 180
	return motion.Delta{X: -math.Sin(r) * d, Z: math.Cos(r) * d}
}

func (a *Actor) tick() {
	moved, err := a.ctl.Tick()
	switch {
	case err != nil && !a.sendFails:
		a.sendFails = true
		a.log.Printf("position update: %v", err)
	case err == nil:
		a.sendFails = false
	}
	if moved {
		a.draw()
	}
	a.settle()
}

// draw marks the block under the avatar once per cell while the pen is down.
func (a *Actor) draw() {
	if !a.pen.Down {
		return
	}
	cell := pen.CellOf(a.ctl.Position())
	if a.drawn && cell == a.lastCell {
		return
	}
	for _, m := range pen.Draw(a.pen, a.ctl.Position(), a.bounds) {
		if err := a.tr.Send(m); err != nil {
			a.log.Printf("draw: %v", err)
			return
		}
	}
	a.lastCell = cell
	a.drawn = true
}
