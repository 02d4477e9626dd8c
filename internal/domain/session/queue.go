package session

import (
	"container/list"
	"sync"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
)

// fifo is an unbounded, condition-variable-backed FIFO. A session's queue is
// bounded only by memory per the runtime's non-goal of back-pressure
// propagation: a slow handler must never cause an event to be dropped, only
// to pile up.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

func newFIFO() *fifo {
	f := &fifo{items: list.New()}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fifo) push(ev mesh.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.items.PushBack(ev)
	f.cond.Signal()
}

// pop blocks until an item is available or the queue is closed. Items queued
// before close are still returned in order; ok is false only once the queue
// is both closed and empty.
func (f *fifo) pop() (ev mesh.Event, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.items.Len() == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.items.Len() == 0 {
		return mesh.Event{}, false
	}
	front := f.items.Front()
	f.items.Remove(front)
	return front.Value.(mesh.Event), true
}

func (f *fifo) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}
