package board

import (
	"sync"
	"time"
)

// DefaultDelay is the quiet period used when Enqueue is called without one.
const DefaultDelay = 300 * time.Millisecond

// FlushFunc receives a drained batch. It runs on the timer goroutine and may
// block; flushes are not serialized with each other.
type FlushFunc[C any] func(changes []C)

// ChangeQueue buffers changes keyed by entity ID and hands the latest change
// per ID to a flush function once no new change arrived for the delay.
type ChangeQueue[C any] struct {
	key       func(C) string
	afterFunc AfterFunc

	mu      sync.Mutex
	pending map[string]C
	order   []string
	flush   FlushFunc[C]
	timer   Timer
	gen     uint64
}

// NewChangeQueue creates an empty queue. key extracts the coalescing ID from
// a change. A nil afterFunc uses time.AfterFunc.
func NewChangeQueue[C any](key func(C) string, afterFunc AfterFunc) *ChangeQueue[C] {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &ChangeQueue[C]{
		key:       key,
		afterFunc: afterFunc,
		pending:   make(map[string]C),
	}
}

// Enqueue stores change, replacing any buffered change with the same key, and
// restarts the quiet period. flush replaces the previously registered flush
// function. Enqueue never calls flush itself.
func (q *ChangeQueue[C]) Enqueue(change C, flush FlushFunc[C], delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.key(change)
	if _, ok := q.pending[id]; !ok {
		q.order = append(q.order, id)
	}
	q.pending[id] = change
	q.flush = flush

	q.stopLocked()
	gen := q.gen
	q.timer = q.afterFunc(delay, func() { q.fire(gen) })
}

// Clear stops the pending timer and drops every buffered change without
// flushing. Calling it on an empty queue is a no-op.
func (q *ChangeQueue[C]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
	q.pending = make(map[string]C)
	q.order = nil
	q.flush = nil
}

// Flush drains the queue immediately and runs the last registered flush
// function on the calling goroutine. It returns the number of changes
// flushed.
func (q *ChangeQueue[C]) Flush() int {
	q.mu.Lock()
	q.stopLocked()
	changes, flush := q.drainLocked()
	q.mu.Unlock()

	if len(changes) == 0 || flush == nil {
		return 0
	}
	flush(changes)
	return len(changes)
}

// Len reports the number of buffered changes.
func (q *ChangeQueue[C]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *ChangeQueue[C]) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen {
		// superseded by a later Enqueue, Clear or Flush
		q.mu.Unlock()
		return
	}
	q.timer = nil
	q.gen++
	changes, flush := q.drainLocked()
	q.mu.Unlock()

	if len(changes) > 0 && flush != nil {
		flush(changes)
	}
}

func (q *ChangeQueue[C]) stopLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
}

func (q *ChangeQueue[C]) drainLocked() ([]C, FlushFunc[C]) {
	if len(q.pending) == 0 {
		return nil, q.flush
	}
	changes := make([]C, 0, len(q.pending))
	for _, id := range q.order {
		changes = append(changes, q.pending[id])
	}
	q.pending = make(map[string]C)
	q.order = nil
	return changes, q.flush
}
