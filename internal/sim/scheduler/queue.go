package scheduler

import (
	"sync"

	"turtlecraft.ai/internal/logo"
)

// Entry is one top-level parse result waiting to run.
type Entry struct {
	ID     string
	Source string
	Text   string
	List   logo.List
}

// Queue is the unbounded FIFO between command intake and the scheduler.
// Push never blocks and may be called from any goroutine.
type Queue struct {
	mu     sync.Mutex
	items  []Entry
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	e := q.items[0]
	q.items[0] = Entry{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify fires (coalesced) after Push.
func (q *Queue) Notify() <-chan struct{} { return q.notify }
