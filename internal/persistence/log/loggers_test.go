package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"turtlecraft.ai/internal/sim/actor"
)

func TestEventLogger_RoundTripAcrossHours(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)

	l.Record(actor.Event{Time: now, Kind: actor.EventQueued, EntryID: "e1", Text: "fd 1"})
	now = now.Add(2 * time.Minute)
	l.Record(actor.Event{Time: now, Kind: actor.EventInstruction, EntryID: "e1", Seq: 1, Op: "fd", Arg: 1, OK: true, Ticks: 2})
	l.Record(actor.Event{Time: now, Kind: actor.EventCompleted, EntryID: "e1"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := l.Stats(); st.Written != 3 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}

	files, err := ListFiles(filepath.Join(dir, "journal"), "journal")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "journal-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var kinds []actor.EventKind
	err = ReadDir(filepath.Join(dir, "journal"), func(e actor.Event) error {
		kinds = append(kinds, e.Kind)
		if e.Kind == actor.EventInstruction && (e.Op != "fd" || e.Ticks != 2 || !e.OK) {
			t.Fatalf("instruction=%+v", e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []actor.EventKind{actor.EventQueued, actor.EventInstruction, actor.EventCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("kinds=%v want=%v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds=%v want=%v", kinds, want)
		}
	}
}

func TestEventLogger_WriteAfterClose(t *testing.T) {
	l := NewEventLogger(t.TempDir())
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	l.Record(actor.Event{Kind: actor.EventQueued})
	st := l.Stats()
	if st.Failed != 1 || st.LastErr != ErrClosed {
		t.Fatalf("stats=%+v", st)
	}
}

func TestEventLogger_RotatesOnEventTime(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	wall := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return wall }

	h9 := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	l.Record(actor.Event{Time: h9, Kind: actor.EventQueued, EntryID: "a"})
	l.Record(actor.Event{Time: h9.Add(time.Hour), Kind: actor.EventQueued, EntryID: "b"})
	// Late event from hour 9 stays in the open hour 10 segment.
	l.Record(actor.Event{Time: h9.Add(time.Minute), Kind: actor.EventCompleted, EntryID: "a"})
	if st := l.Stats(); st.Segment != "2024-05-01-10" || st.SegmentLines != 2 {
		t.Fatalf("stats=%+v", st)
	}
	// No timestamp: the wall clock decides.
	l.Record(actor.Event{Kind: actor.EventDisconnect})
	if st := l.Stats(); st.Segment != "2030-01-01-00" || st.SegmentLines != 1 || st.Written != 4 {
		t.Fatalf("stats=%+v", st)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "journal"), "journal")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	want := []string{"journal-2024-05-01-09.jsonl.zst", "journal-2024-05-01-10.jsonl.zst", "journal-2030-01-01-00.jsonl.zst"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}

	var ids []string
	if err := ReadDir(filepath.Join(dir, "journal"), func(e actor.Event) error {
		ids = append(ids, e.EntryID)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "a", ""}, ids); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}

func TestEventLogger_AppendsAfterReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		l := NewEventLogger(dir)
		l.Record(actor.Event{Time: at, Kind: actor.EventReady})
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	n := 0
	if err := ReadDir(filepath.Join(dir, "journal"), func(actor.Event) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("events=%d want=2", n)
	}
}
