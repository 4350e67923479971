package buffer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mikeyg42/posecapture/internal/frame"
)

var (
	// ErrQueueClosed is returned by Push after Close.
	ErrQueueClosed = errors.New("frame queue closed")
	// ErrQueueFull is returned by Push on a bounded queue at capacity; the
	// pushed (newest) frame is not enqueued.
	ErrQueueFull = errors.New("frame queue full")
)

// Queue is the FIFO hand-off between the capture pipeline and the
// persistence worker. Pushing a frame transfers ownership of it.
// Semantics:
//   - Push never blocks; a bounded queue refuses the newest frame when full.
//   - PopBlocking waits for a frame or for Close.
//   - After Close, poppers still receive every remaining frame and only then
//     see (nil, false).
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	items    []*frame.CapturedFrame
	head     int
	capacity int
	closed   bool

	pushed   atomic.Uint64
	popped   atomic.Uint64
	rejected atomic.Uint64
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pushed   uint64
	Popped   uint64
	Rejected uint64
	Depth    int
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends f.
func (q *Queue) Push(f *frame.CapturedFrame) error {
	if f == nil {
		return errors.New("cannot push nil frame")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.rejected.Add(1)
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.rejected.Add(1)
		return ErrQueueFull
	}

	q.items = append(q.items, f)
	q.pushed.Add(1)
	q.notEmpty.Signal()
	return nil
}

// TryPop returns the oldest frame without waiting.
func (q *Queue) TryPop() (*frame.CapturedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopBlocking waits until a frame is available or the queue is closed and
// drained.
func (q *Queue) PopBlocking() (*frame.CapturedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

// Close stops accepting frames and wakes every waiting popper. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Capacity returns the bound, 0 when unbounded.
func (q *Queue) Capacity() int { return q.capacity }

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
		Rejected: q.rejected.Load(),
		Depth:    q.Len(),
	}
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

// popLocked requires q.mu held.
func (q *Queue) popLocked() (*frame.CapturedFrame, bool) {
	if q.lenLocked() == 0 {
		return nil, false
	}
	f := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Reclaim the consumed prefix once it dominates the slice.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}

	q.popped.Add(1)
	return f, true
}
