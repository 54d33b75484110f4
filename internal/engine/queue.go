package engine

import (
	"context"
	"sync"

	"github.com/roach88/cpool/internal/ir"
)

// request is one submitted call waiting for the loop.
type request struct {
	ctx   context.Context
	call  ir.Call
	reply chan response // buffered, size 1
}

type response struct {
	reply ir.Reply
	err   error
}

// callQueue is a thread-safe FIFO queue of submitted calls.
//
// Submitters enqueue from any goroutine while the Loop's Run goroutine
// dequeues. The signal channel enables context-aware waiting in Run.
type callQueue struct {
	mu       sync.Mutex
	requests []*request
	closed   bool
	signal   chan struct{} // Signals availability (buffered, size 1)
}

func newCallQueue() *callQueue {
	return &callQueue{
		requests: make([]*request, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *callQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front request without blocking.
func (q *callQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return nil, false
	}

	r := q.requests[0]

	// CRITICAL: nil out the slot so the backing array does not retain
	// call payloads after they are handled.
	q.requests[0] = nil

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Wait returns a channel that signals when requests may be available.
// It is closed when the queue is closed.
func (q *callQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *callQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Finished reports whether the queue is closed and empty.
func (q *callQueue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.requests) == 0
}

// Close stops accepting requests and wakes any waiter.
func (q *callQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drain closes the queue and removes every pending request.
func (q *callQueue) Drain() []*request {
	q.Close()

	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.requests
	q.requests = nil
	return pending
}
