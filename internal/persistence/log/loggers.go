package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"turtlecraft.ai/internal/sim/actor"
)

var ErrClosed = errors.New("journal: closed")

const hourLayout = "2006-01-02-15"

// EventLogger journals actor events as JSON lines in hourly zstd files named
// journal-YYYY-MM-DD-HH.jsonl.zst. The hour comes from the event's own Time, so
// a replayed or delayed event lands in the file of the hour it happened. Hours
// only move forward: an event older than the open segment is appended to it,
// which keeps the files in journal order. It implements actor.Recorder.
type EventLogger struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	closed  bool
	seg     *segment
	written uint64
	failed  uint64
	lastErr error
}

// segment is one open hourly file.
type segment struct {
	hour  string
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
	lines int
}

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{dir: filepath.Join(dataDir, "journal"), now: time.Now}
}

func (l *EventLogger) Record(e actor.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(e); err != nil {
		l.failed++
		l.lastErr = err
		return
	}
	l.written++
}

func (l *EventLogger) appendLocked(e actor.Event) error {
	if l.closed {
		return ErrClosed
	}
	t := e.Time
	if t.IsZero() {
		t = l.now()
	}
	hour := t.UTC().Format(hourLayout)
	if l.seg == nil || hour > l.seg.hour {
		if err := l.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := l.seg.w.Write(b); err != nil {
		return err
	}
	l.seg.lines++
	return l.seg.w.Flush()
}

func (l *EventLogger) rotateLocked(hour string) error {
	if err := l.closeSegmentLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	// Reopening an hour after a restart appends a new zstd frame; readers
	// decode concatenated frames.
	f, err := os.OpenFile(segmentPath(l.dir, hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.seg = &segment{hour: hour, f: f, enc: enc, w: bufio.NewWriterSize(enc, 32*1024)}
	return nil
}

func (l *EventLogger) closeSegmentLocked() error {
	s := l.seg
	if s == nil {
		return nil
	}
	l.seg = nil
	err := s.w.Flush()
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("journal: close %s: %w", s.hour, err)
	}
	return nil
}

func segmentPath(dir, hour string) string {
	return filepath.Join(dir, "journal-"+hour+".jsonl.zst")
}

type EventLoggerStats struct {
	Written uint64
	Failed  uint64
	LastErr error
	// Segment is the hour of the open file and SegmentLines its line count.
	Segment      string
	SegmentLines int
}

func (l *EventLogger) Stats() EventLoggerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := EventLoggerStats{Written: l.written, Failed: l.failed, LastErr: l.lastErr}
	if l.seg != nil {
		st.Segment, st.SegmentLines = l.seg.hour, l.seg.lines
	}
	return st
}

func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.closeSegmentLocked()
}
