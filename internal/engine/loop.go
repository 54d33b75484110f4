package engine

import (
	"context"
	"errors"

	"github.com/roach88/cpool/internal/ir"
)

// ErrLoopStopped is returned by Submit once the loop no longer accepts calls.
var ErrLoopStopped = errors.New("worker loop stopped")

// Loop is the request loop that owns a Worker.
//
// CRITICAL: Run is the only goroutine that touches the Worker. Calls are
// handled strictly one at a time in submission order; a call is never
// started before the previous one has returned.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Stop(): safe from any goroutine
type Loop struct {
	worker *Worker
	queue  *callQueue
}

// NewLoop creates a loop around w. The caller must not use w directly
// while the loop runs.
func NewLoop(w *Worker) *Loop {
	return &Loop{
		worker: w,
		queue:  newCallQueue(),
	}
}

// Submit enqueues call and waits for its reply.
//
// If ctx ends before the loop reaches the call, the call is skipped. If it
// ends while the call is running, Submit returns ctx.Err() and the call
// still completes inside the worker, since compilation cannot be cancelled.
func (l *Loop) Submit(ctx context.Context, call ir.Call) (ir.Reply, error) {
	req := &request{
		ctx:   ctx,
		call:  call,
		reply: make(chan response, 1),
	}
	if !l.queue.Enqueue(req) {
		return ir.Reply{}, ErrLoopStopped
	}

	select {
	case <-ctx.Done():
		return ir.Reply{}, ctx.Err()
	case resp := <-req.reply:
		return resp.reply, resp.err
	}
}

// Run handles submitted calls until ctx is cancelled or Stop is called.
// After Stop, calls already queued are still handled before Run returns.
// On cancellation, queued calls fail with ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) error {
	l.worker.log.Info("worker loop starting")

	for {
		if req, ok := l.queue.TryDequeue(); ok {
			l.handle(req)
			continue
		}

		select {
		case <-ctx.Done():
			l.worker.log.Info("worker loop stopping: context cancelled")
			for _, req := range l.queue.Drain() {
				req.reply <- response{err: ErrLoopStopped}
			}
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel is closed on Stop, so this fires
			// immediately once the queue is closed.
			if l.queue.Finished() {
				l.worker.log.Info("worker loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the queued calls are handled.
func (l *Loop) Stop() {
	l.queue.Close()
}

func (l *Loop) handle(req *request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- response{err: err}
		return
	}
	reply, err := l.worker.Handle(req.ctx, req.call)
	req.reply <- response{reply: reply, err: err}
}
