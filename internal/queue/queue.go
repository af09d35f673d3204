// Package queue implements the bounded command queue described in
// spec.md §4.B: a fixed-capacity ring buffer guarded by a mutex and two
// condition variables (not_full, not_empty), the direct Go translation
// of the original C implementation's pthread_cond_t pair rather than a
// buffered channel, so that Shutdown can broadcast a wakeup to every
// blocked producer and consumer at once.
package queue

import (
	"errors"
	"sync"

	"github.com/babblehq/babble/internal/protocol"
)

// ErrClosed is returned by Enqueue once Shutdown has been called, and by
// Dequeue once Shutdown has been called and no further items are available.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO of protocol.Command values.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf   []protocol.Command
	head  int
	count int

	closed bool
}

// New creates a queue with the given capacity. Capacity must be >= 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		buf: make([]protocol.Command, capacity),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Enqueue blocks while the queue is full, then appends cmd. It returns
// ErrClosed if Shutdown is called while the producer is waiting, or if
// the queue is already closed (§4.B: "a producer blocked on a full
// queue must wake on shutdown rather than hang forever").
func (q *Queue) Enqueue(cmd protocol.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == len(q.buf) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}

	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = cmd
	q.count++

	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks while the queue is empty, then removes and returns the
// oldest item. The returned Command is a value copy, never the buffer
// slot itself (§3: commands are value-copied into the queue, fixing the
// aliasing hazard an in-place slice reference would introduce — see
// spec.md Open Question 2). It returns ErrClosed once the queue has been
// shut down and drained.
func (q *Queue) Dequeue() (protocol.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 && q.closed {
		return protocol.Command{}, ErrClosed
	}

	cmd := q.buf[q.head]
	q.buf[q.head] = protocol.Command{} // drop the reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	q.notFull.Signal()
	return cmd, nil
}

// Shutdown marks the queue closed and wakes every blocked producer and
// consumer. Items already queued remain available to Dequeue until
// drained; after that Dequeue also returns ErrClosed.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
