package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"turtlecraft.ai/internal/logo"
	eventlog "turtlecraft.ai/internal/persistence/log"
	"turtlecraft.ai/internal/sim/actor"
	"turtlecraft.ai/internal/sim/scheduler"
)

func main() {
	var (
		journalDir = flag.String("journal", "./data/journal", "journal dir containing journal-*.jsonl.zst")
		agent      = flag.String("agent", "", "only events of this agent (optional)")
		verify     = flag.Bool("verify", true, "check recorded instructions against a fresh parse of each command")
		verbose    = flag.Bool("v", false, "print every event")
	)
	flag.Parse()

	files, err := eventlog.ListFiles(*journalDir, "journal")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	r := newReplayer(*agent, *verify)
	for _, path := range files {
		err := eventlog.ReadEvents(path, func(e actor.Event) error {
			if *verbose && r.wants(e) {
				printEvent(os.Stdout, e)
			}
			return r.apply(e)
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	r.report(os.Stdout)
	if *verify {
		fmt.Printf("replay ok: checked=%d instructions\n", r.checked)
	}
}

type agentStats struct {
	kinds       map[actor.EventKind]int
	ops         map[string]int
	ticks       map[string]int
	failed      int
	first, last time.Time
}

// replayer folds journal events into per-agent statistics and optionally
// re-derives every entry's instruction stream.
type replayer struct {
	agent  string
	verify bool

	agents  map[string]*agentStats
	entries map[string]*scheduler.Scheduler
	checked int
}

func newReplayer(agent string, verify bool) *replayer {
	return &replayer{
		agent:   agent,
		verify:  verify,
		agents:  map[string]*agentStats{},
		entries: map[string]*scheduler.Scheduler{},
	}
}

func (r *replayer) wants(e actor.Event) bool {
	return r.agent == "" || e.Agent == r.agent
}

func (r *replayer) apply(e actor.Event) error {
	if !r.wants(e) {
		return nil
	}
	st := r.agents[e.Agent]
	if st == nil {
		st = &agentStats{kinds: map[actor.EventKind]int{}, ops: map[string]int{}, ticks: map[string]int{}}
		r.agents[e.Agent] = st
	}
	st.kinds[e.Kind]++
	if st.first.IsZero() || e.Time.Before(st.first) {
		st.first = e.Time
	}
	if e.Time.After(st.last) {
		st.last = e.Time
	}

	switch e.Kind {
	case actor.EventQueued:
		if !r.verify {
			return nil
		}
		l, err := logo.Parse(e.Text)
		if err != nil {
			return fmt.Errorf("entry %s: recorded text no longer parses: %w", e.EntryID, err)
		}
		if e.Canonical != "" && l.String() != e.Canonical {
			return fmt.Errorf("entry %s: canonical mismatch: got=%q want=%q", e.EntryID, l.String(), e.Canonical)
		}
		s := scheduler.New(nil)
		s.Enqueue(scheduler.Entry{ID: e.EntryID, List: l})
		r.entries[e.EntryID] = s

	case actor.EventInstruction:
		st.ops[e.Op]++
		st.ticks[e.Op] += e.Ticks
		if !e.OK {
			st.failed++
		}
		if r.verify {
			return r.check(e)
		}

	case actor.EventCompleted, actor.EventAborted:
		s, ok := r.entries[e.EntryID]
		delete(r.entries, e.EntryID)
		if ok && e.Kind == actor.EventCompleted && r.verify {
			if step, more := s.Next(); more {
				return fmt.Errorf("entry %s: completed but instruction %d (%s) never ran", e.EntryID, step.Seq, step.Command)
			}
		}
	}
	return nil
}

func (r *replayer) check(e actor.Event) error {
	s, ok := r.entries[e.EntryID]
	if !ok {
		return fmt.Errorf("entry %s: instruction %d without queued event", e.EntryID, e.Seq)
	}
	step, more := s.Next()
	if !more {
		return fmt.Errorf("entry %s: instruction %d past the end of the command", e.EntryID, e.Seq)
	}
	want := step.Command
	arg := want.Arg
	if want.Op == logo.OpSetPen {
		arg = float64(want.Item)
	}
	if step.Seq != e.Seq || want.Op.String() != e.Op || arg != e.Arg {
		return fmt.Errorf("entry %s: instruction mismatch at seq %d: recorded %s %g, expected seq %d %s",
			e.EntryID, e.Seq, e.Op, e.Arg, step.Seq, want)
	}
	r.checked++
	return nil
}

func (r *replayer) report(w io.Writer) {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		st := r.agents[n]
		fmt.Fprintf(w, "agent %s: %s .. %s\n", n, st.first.Format(time.RFC3339), st.last.Format(time.RFC3339))
		fmt.Fprintf(w, "  commands queued=%d completed=%d aborted=%d rejected=%d\n",
			st.kinds[actor.EventQueued], st.kinds[actor.EventCompleted], st.kinds[actor.EventAborted], st.kinds[actor.EventRejected])
		fmt.Fprintf(w, "  session ready=%d corrections=%d disconnects=%d\n",
			st.kinds[actor.EventReady], st.kinds[actor.EventCorrection], st.kinds[actor.EventDisconnect])
		ops := make([]string, 0, len(st.ops))
		for op := range st.ops {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			fmt.Fprintf(w, "  op %-7s count=%d ticks=%d\n", op, st.ops[op], st.ticks[op])
		}
		if st.failed > 0 {
			fmt.Fprintf(w, "  cancelled instructions=%d\n", st.failed)
		}
	}
}

func printEvent(w io.Writer, e actor.Event) {
	ts := e.Time.Format("15:04:05.000")
	switch e.Kind {
	case actor.EventQueued:
		fmt.Fprintf(w, "%s %s queued %s from %s: %s\n", ts, e.Agent, e.EntryID, e.Source, e.Text)
	case actor.EventRejected:
		fmt.Fprintf(w, "%s %s rejected from %s: %s (%s)\n", ts, e.Agent, e.Source, e.Text, e.Error)
	case actor.EventInstruction:
		fmt.Fprintf(w, "%s %s   #%d %s %g ok=%t ticks=%d\n", ts, e.Agent, e.Seq, e.Op, e.Arg, e.OK, e.Ticks)
	default:
		if e.Pos != nil {
			fmt.Fprintf(w, "%s %s %s at %.3f %.3f %.3f\n", ts, e.Agent, e.Kind, e.Pos.X, e.Pos.Y, e.Pos.Z)
			return
		}
		fmt.Fprintf(w, "%s %s %s %s\n", ts, e.Agent, e.Kind, e.EntryID)
	}
}
