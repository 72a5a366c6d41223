package bucket

import (
	"context"
	"log"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Putter is the upload half of Client.
type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth  int
	Uploaded    uint64
	Failed      uint64
	Dropped     uint64
	LastSuccess time.Time
}

// Mirror uploads files in the background. Enqueue never blocks; a full queue
// drops the file, which is fine for snapshots since a newer one follows.
type Mirror struct {
	put    Putter
	prefix string
	logger *log.Logger

	jobs    chan string
	wg      sync.WaitGroup
	retries int
	backoff time.Duration

	uploaded    atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(put Putter, prefix string, queue int, logger *log.Logger) *Mirror {
	if queue <= 0 {
		queue = 16
	}
	m := &Mirror{
		put:     put,
		prefix:  prefix,
		logger:  logger,
		jobs:    make(chan string, queue),
		retries: 3,
		backoff: 250 * time.Millisecond,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for p := range m.jobs {
			m.upload(p)
		}
	}()
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- localPath:
	default:
		m.dropped.Add(1)
		m.printf("mirror drop %s: queue full", filepath.Base(localPath))
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	s := Stats{
		QueueDepth: len(m.jobs),
		Uploaded:   m.uploaded.Load(),
		Failed:     m.failed.Load(),
		Dropped:    m.dropped.Load(),
	}
	if ms := m.lastSuccess.Load(); ms > 0 {
		s.LastSuccess = time.UnixMilli(ms)
	}
	return s
}

func (m *Mirror) upload(localPath string) {
	key := path.Join(m.prefix, filepath.Base(localPath))
	var err error
	for attempt := 1; attempt <= m.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = m.put.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().UnixMilli())
			return
		}
		if attempt < m.retries {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	m.failed.Add(1)
	m.printf("mirror upload %s failed: %v", key, err)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
