package motion

import (
	"context"
	"sync"
)

// Future is the single-shot completion of one move/turn. It resolves true on
// arrival and false when the motion was replaced or overridden.
type Future struct {
	done  chan struct{}
	once  sync.Once
	ok    bool
	ticks int
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved(ok bool) *Future {
	f := newFuture()
	f.resolve(ok, 0)
	return f
}

func (f *Future) resolve(ok bool, ticks int) {
	f.once.Do(func() {
		f.ok = ok
		f.ticks = ticks
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Result reports the outcome. Only meaningful once Done is closed.
func (f *Future) Result() bool {
	select {
	case <-f.done:
		return f.ok
	default:
		return false
	}
}

// Ticks is the number of translation steps taken before resolution.
func (f *Future) Ticks() int {
	select {
	case <-f.done:
		return f.ticks
	default:
		return 0
	}
}

func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
