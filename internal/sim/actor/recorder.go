package actor

import (
	"time"

	"turtlecraft.ai/internal/sim/motion"
)

type EventKind string

const (
	EventQueued      EventKind = "queued"
	EventRejected    EventKind = "rejected"
	EventInstruction EventKind = "instruction"
	EventCompleted   EventKind = "completed"
	EventAborted     EventKind = "aborted"
	EventCorrection  EventKind = "correction"
	EventReady       EventKind = "ready"
	EventDisconnect  EventKind = "disconnect"
)

// Event is one journal/index record. Fields not relevant to Kind are zero.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  EventKind `json:"kind"`
	Agent string    `json:"agent,omitempty"`

	EntryID   string `json:"entry_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Text      string `json:"text,omitempty"`
	Canonical string `json:"canonical,omitempty"`
	Error     string `json:"error,omitempty"`

	Seq   int     `json:"seq,omitempty"`
	Op    string  `json:"op,omitempty"`
	Arg   float64 `json:"arg,omitempty"`
	OK    bool    `json:"ok,omitempty"`
	Ticks int     `json:"ticks,omitempty"`

	Pos *motion.Position `json:"pos,omitempty"`
}

// Recorder receives actor events. Record is called from the actor goroutine
// and from Enqueue callers, so implementations must be safe for concurrent use
// and should not block.
type Recorder interface {
	Record(e Event)
}

// Recorders fans an event out to each non-nil recorder.
type Recorders []Recorder

func (rs Recorders) Record(e Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(e)
		}
	}
}

type RecorderFunc func(Event)

func (f RecorderFunc) Record(e Event) { f(e) }
