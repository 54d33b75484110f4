package engine

import "sync/atomic"

// Clock stamps handled calls with a strictly increasing sequence number.
//
// Sequence numbers order journal records and log lines within one worker
// run. They never come from the wall clock, so a replayed scenario produces
// the same numbers.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
