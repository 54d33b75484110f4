package engine

import "github.com/roach88/cpool/internal/ir"

// Continuation is the one-slot store of the most recently produced
// transaction state.
//
// The slot starts EMPTY and moves to HOLDING on the first Store; it never
// returns to EMPTY. The continuation marker resolves to whatever the slot
// holds.
//
// CRITICAL: the slot is per worker, not per transaction. Resolving the
// marker is only correct when the orchestrator routes every statement of a
// transaction to the same worker. Nothing here can detect a violation; the
// marker then silently resolves to another transaction's state.
type Continuation struct {
	state   TxState
	holding bool
}

// Holding reports whether a state has ever been stored.
func (c *Continuation) Holding() bool {
	return c.holding
}

// Current returns the held state.
func (c *Continuation) Current() (TxState, bool) {
	return c.state, c.holding
}

// Store overwrites the slot. Callers store only after the call producing
// state has fully succeeded.
func (c *Continuation) Store(state TxState) {
	c.state = state
	c.holding = true
}

// Resolve returns the state a state-bound call should run with: the held
// state for the marker, or the decoded blob otherwise. The second result
// reports whether the marker was used. Resolve never modifies the slot.
func (c *Continuation) Resolve(ref ir.StateRef, decode func(ir.Blob) (TxState, error)) (TxState, bool, error) {
	if ref.IsMarker() {
		if !c.holding {
			return nil, true, newStaleMarkerError()
		}
		return c.state, true, nil
	}
	if ref.Blob == nil {
		return nil, false, newProtocolError("missing transaction state")
	}
	state, err := decode(ref.Blob)
	if err != nil {
		perr := newProtocolError("decode transaction state")
		perr.Err = err
		return nil, false, perr
	}
	return state, false, nil
}
