// Package scheduler flattens queued command trees into a pull-driven stream of
// atomic instructions.
//
// Nested and repeated blocks are walked with an explicit frame stack, so the
// caller can stop between any two instructions and resume later without
// holding a call stack. Memory is bounded by nesting depth: a repeat uses one
// frame for all of its iterations.
package scheduler

import "turtlecraft.ai/internal/logo"

// Step is one atomic instruction together with the entry it came from.
// Seq counts instructions within the entry, starting at 1.
type Step struct {
	Command logo.Command
	EntryID string
	Seq     int
}

type frame struct {
	list   logo.List
	next   int
	repeat bool
	left   int
}

// Scheduler is not safe for concurrent use, except through its Queue.
type Scheduler struct {
	queue *Queue
	stack []frame

	entry    Entry
	active   bool
	seq      int
	finished []Entry

	// hollow holds the repeat nodes of the current entry that expand to
	// nothing. It is filled once per entry, so entering a repeat costs O(1)
	// however deep its body is nested.
	hollow map[*logo.Command]bool
}

func New(q *Queue) *Scheduler {
	if q == nil {
		q = NewQueue()
	}
	return &Scheduler{queue: q}
}

func (s *Scheduler) Queue() *Queue { return s.queue }

// Enqueue appends e to the pending queue.
func (s *Scheduler) Enqueue(e Entry) { s.queue.Push(e) }

// Next returns the next atomic command, or false when both the frame stack and
// the queue are exhausted. A later Enqueue makes Next productive again.
func (s *Scheduler) Next() (Step, bool) {
	for {
		if len(s.stack) == 0 {
			if s.active {
				s.finished = append(s.finished, s.entry)
				s.active = false
			}
			e, ok := s.queue.Pop()
			if !ok {
				return Step{}, false
			}
			s.entry = e
			s.active = true
			s.seq = 0
			clear(s.hollow)
			s.markHollow(e.List)
			s.stack = append(s.stack, frame{list: e.List})
			continue
		}

		top := &s.stack[len(s.stack)-1]
		if top.repeat {
			if top.left <= 0 {
				s.pop()
				continue
			}
			top.left--
			body := top.list
			s.stack = append(s.stack, frame{list: body})
			continue
		}
		if top.next >= len(top.list) {
			s.pop()
			continue
		}

		cmd := &top.list[top.next]
		top.next++
		if cmd.Op == logo.OpRepeat {
			if !s.hollow[cmd] {
				s.stack = append(s.stack, frame{list: cmd.Body, repeat: true, left: cmd.Count})
			}
			continue
		}
		s.seq++
		return Step{Command: *cmd, EntryID: s.entry.ID, Seq: s.seq}, true
	}
}

// markHollow records every repeat in l that yields no atomic command and
// reports whether l yields any.
func (s *Scheduler) markHollow(l logo.List) bool {
	atomic := false
	for i := range l {
		c := &l[i]
		if c.Op != logo.OpRepeat {
			atomic = true
			continue
		}
		if s.markHollow(c.Body) && c.Count > 0 {
			atomic = true
			continue
		}
		if s.hollow == nil {
			s.hollow = make(map[*logo.Command]bool)
		}
		s.hollow[c] = true
	}
	return atomic
}

func (s *Scheduler) pop() {
	s.stack[len(s.stack)-1] = frame{}
	s.stack = s.stack[:len(s.stack)-1]
}

// Abort discards whatever remains of the entry currently being expanded.
// Queued entries are untouched. It returns the discarded entry, if any.
func (s *Scheduler) Abort() (Entry, bool) {
	if !s.active {
		return Entry{}, false
	}
	for len(s.stack) > 0 {
		s.pop()
	}
	e := s.entry
	s.entry = Entry{}
	s.active = false
	return e, true
}

// Current returns the entry being expanded.
func (s *Scheduler) Current() (Entry, bool) { return s.entry, s.active }

// Depth is the current frame stack depth.
func (s *Scheduler) Depth() int { return len(s.stack) }

// TakeFinished returns entries whose expansion completed since the last call.
func (s *Scheduler) TakeFinished() []Entry {
	out := s.finished
	s.finished = nil
	return out
}

// Flatten expands l eagerly, stopping after limit commands when limit > 0.
func Flatten(l logo.List, limit int) []logo.Command {
	s := New(nil)
	s.Enqueue(Entry{List: l})
	var out []logo.Command
	for limit <= 0 || len(out) < limit {
		st, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, st.Command)
	}
	return out
}
