package testutil

import "sync"

// FixedRunID names every worker run with the same id.
//
// Golden traces embed the run id, so a scenario must get the same id on
// every execution. Unlike RunIDSequence, which hands out a list of ids once
// each, FixedRunID never runs out.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator for id. An empty id becomes
// "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed id. Implements engine.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}

// RunIDSequence hands out predetermined run ids in order, for tests that
// start several worker runs and need to tell them apart.
type RunIDSequence struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewRunIDSequence creates a sequence over ids.
func NewRunIDSequence(ids ...string) *RunIDSequence {
	return &RunIDSequence{ids: ids}
}

// Generate returns the next id. Implements engine.RunIDGenerator.
// Panics once every id has been handed out: the test started more runs
// than it declared.
func (g *RunIDSequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("RunIDSequence: all ids used")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
