// Package actor drives one avatar: it parses command text, flattens queued
// commands into atomic instructions and runs them one at a time against the
// motion controller and the pen.
//
// All state is owned by the goroutine running Run. Transport callbacks and
// Enqueue hand work to it over channels.
package actor

import (
	"context"
	"io"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/sim/clock"
	"turtlecraft.ai/internal/sim/motion"
	"turtlecraft.ai/internal/sim/pen"
	"turtlecraft.ai/internal/sim/scheduler"
)

type Config struct {
	Name       string
	Tick       time.Duration
	MaxStep    float64
	Bounds     pen.Bounds
	ChatPrefix string

	Clock    clock.Clock
	Logger   *log.Logger
	Recorder Recorder
	Now      func() time.Time
}

type Actor struct {
	cfg Config
	tr  motion.Transport
	log *log.Logger
	rec Recorder

	sched *scheduler.Scheduler
	ctl   *motion.Controller
	inbox chan any
	done  chan struct{}

	// Owned by the Run goroutine.
	agentID   string
	bounds    pen.Bounds
	pen       pen.State
	lastCell  pen.Cell
	drawn     bool
	inflight  *motion.Future
	step      scheduler.Step
	advancing bool
	sendFails bool
	spawn     *Spawn
	worldTime int64
	players   map[string]int
	executed  int64

	mu      sync.RWMutex
	status  Status
	onReady []func(motion.Position)
}

type Spawn struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Status is a point-in-time snapshot safe to read from any goroutine.
type Status struct {
	Name      string          `json:"name"`
	AgentID   string          `json:"agent_id,omitempty"`
	Ready     bool            `json:"ready"`
	Position  motion.Position `json:"position"`
	Busy      bool            `json:"busy"`
	Pen       pen.State       `json:"pen"`
	Pending   int             `json:"pending"`
	Depth     int             `json:"depth"`
	CurrentID string          `json:"current_id,omitempty"`
	Current   string          `json:"current,omitempty"`
	Spawn     *Spawn          `json:"spawn,omitempty"`
	WorldTime int64           `json:"world_time"`
	Players   map[string]int  `json:"players,omitempty"`
	Executed  int64           `json:"executed"`
}

func New(cfg Config, tr motion.Transport) *Actor {
	if cfg.Name == "" {
		cfg.Name = "turtle"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = Recorders(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &Actor{
		cfg:     cfg,
		tr:      tr,
		log:     cfg.Logger,
		rec:     cfg.Recorder,
		sched:   scheduler.New(nil),
		ctl:     motion.NewController(tr, cfg.MaxStep),
		inbox:   make(chan any, 256),
		done:    make(chan struct{}),
		bounds:  cfg.Bounds,
		players: map[string]int{},
	}
	a.ctl.OnReady(a.sessionReady)
	a.publish()
	return a
}

// Run owns the actor until ctx is done.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	timer := a.cfg.Clock.NewTimer(a.cfg.Tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.ctl.Cancel()
			a.inflight = nil
			a.publish()
			return ctx.Err()
		case <-timer.C():
			a.tick()
			a.publish()
			timer.Reset()
		case v := <-a.inbox:
			a.handle(v)
			a.publish()
		case <-a.sched.Queue().Notify():
			a.advance()
			a.publish()
		}
	}
}

// Done is closed once Run has returned.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Enqueue parses text and queues it. Syntax errors are returned and nothing
// is queued.
func (a *Actor) Enqueue(text string) (string, error) {
	return a.EnqueueFrom("api", text)
}

func (a *Actor) EnqueueFrom(source, text string) (string, error) {
	l, err := logo.Parse(text)
	if err != nil {
		a.rec.Record(Event{
			Time:   a.cfg.Now(),
			Kind:   EventRejected,
			Agent:  a.cfg.Name,
			Source: source,
			Text:   text,
			Error:  err.Error(),
		})
		return "", err
	}
	return a.enqueue(source, text, l), nil
}

// EnqueueList queues an already parsed list.
func (a *Actor) EnqueueList(source string, l logo.List) string {
	return a.enqueue(source, l.String(), l)
}

func (a *Actor) enqueue(source, text string, l logo.List) string {
	id := uuid.NewString()
	a.rec.Record(Event{
		Time:      a.cfg.Now(),
		Kind:      EventQueued,
		Agent:     a.cfg.Name,
		EntryID:   id,
		Source:    source,
		Text:      text,
		Canonical: l.String(),
	})
	a.sched.Enqueue(scheduler.Entry{ID: id, Source: source, Text: text, List: l})
	return id
}

// CurrentPosition is the last published position.
func (a *Actor) CurrentPosition() motion.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status.Position
}

// OnSessionReady registers fn to run on the actor goroutine when the first
// authoritative position of a connection arrives.
func (a *Actor) OnSessionReady(fn func(motion.Position)) {
	a.mu.Lock()
	a.onReady = append(a.onReady, fn)
	a.mu.Unlock()
}

func (a *Actor) Status() Status {
	a.mu.RLock()
	st := a.status
	st.Players = maps.Clone(a.status.Players)
	a.mu.RUnlock()
	st.Pending = a.sched.Queue().Len()
	return st
}

func (a *Actor) sessionReady(p motion.Position) {
	a.log.Printf("session ready at (%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
	a.rec.Record(Event{Time: a.cfg.Now(), Kind: EventReady, Agent: a.cfg.Name, Pos: &p})
	a.mu.RLock()
	fns := slices.Clone(a.onReady)
	a.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (a *Actor) publish() {
	st := Status{
		Name:      a.cfg.Name,
		AgentID:   a.agentID,
		Ready:     a.ctl.Ready(),
		Position:  a.ctl.Position(),
		Busy:      a.inflight != nil,
		Pen:       a.pen,
		Depth:     a.sched.Depth(),
		Spawn:     a.spawn,
		WorldTime: a.worldTime,
		Players:   maps.Clone(a.players),
		Executed:  a.executed,
	}
	if e, ok := a.sched.Current(); ok {
		st.CurrentID = e.ID
		st.Current = e.Text
	}
	a.mu.Lock()
	a.status = st
	a.mu.Unlock()
}
