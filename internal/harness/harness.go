package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/cpool/internal/config"
	"github.com/roach88/cpool/internal/engine"
	"github.com/roach88/cpool/internal/ir"
	"github.com/roach88/cpool/internal/metrics"
	"github.com/roach88/cpool/internal/store"
	"github.com/roach88/cpool/internal/testutil"
)

// DefaultStdSchema is sent when a step calls __init_worker__ explicitly and
// the scenario has no init block.
const DefaultStdSchema = "std"

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	store       *store.Store
	runIDs      engine.RunIDGenerator
	logger      *slog.Logger
	metrics     *metrics.Worker
	passthrough []string
}

// WithStore journals calls into st instead of a private in-memory store.
// The caller keeps ownership of st.
func WithStore(st *store.Store) Option {
	return func(c *runConfig) {
		c.store = st
	}
}

// WithRunIDGenerator overrides the fixed scenario run id. Use it when
// several runs of one scenario share a journal.
func WithRunIDGenerator(g engine.RunIDGenerator) Option {
	return func(c *runConfig) {
		c.runIDs = g
	}
}

// WithLogger sets the worker logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithMetrics records worker metrics into m.
func WithMetrics(m *metrics.Worker) Option {
	return func(c *runConfig) {
		c.metrics = m
	}
}

// WithPassthrough sets the passthrough allowlist for scenarios that do not
// name their own.
func WithPassthrough(names ...string) Option {
	return func(c *runConfig) {
		c.passthrough = names
	}
}

// Run executes a scenario against a fresh worker and returns the result.
//
// The worker runs behind an engine.Loop with the deterministic fake
// compiler, a deterministic clock and a fixed run id, so the trace is
// identical on every run.
//
// Execution flow:
//  1. Open the journal (in-memory SQLite unless WithStore is given)
//  2. Start the worker loop
//  3. Send __init_worker__ if the scenario has an init block
//  4. Submit each step and check its expectation
//  5. Stop the loop, join the journal with the replies into the trace
//  6. Evaluate assertions on the final worker state
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := cfg.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}
	if cfg.runIDs == nil {
		cfg.runIDs = testutil.NewFixedRunID(scenario.RunID)
	}

	bundle, err := initBundle(scenario.Init)
	if err != nil {
		return nil, err
	}

	factory := &testutil.FakeFactory{}
	wopts := []engine.WorkerOption{
		engine.WithLogger(cfg.logger),
		engine.WithJournal(st),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithRunID(cfg.runIDs),
		engine.WithMetrics(cfg.metrics),
	}
	passthrough := scenario.Passthrough
	if len(passthrough) == 0 {
		passthrough = cfg.passthrough
	}
	if len(passthrough) > 0 {
		wopts = append(wopts, engine.WithPassthrough(passthrough...))
	}
	w := engine.NewWorker(factory.New, wopts...)

	ctx := context.Background()
	loop := engine.NewLoop(w)
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	result := NewResult()
	result.RunID = w.RunID()

	var handled []handledCall
	submit := func(call ir.Call) (ir.Reply, error) {
		reply, err := loop.Submit(ctx, call)
		// Submit has returned and nothing else is queued, so Run is idle
		// and reading the cache does not race with it.
		handled = append(handled, handledCall{reply: reply, cached: w.Cache().ClientIDs()})
		return reply, err
	}

	if scenario.Init != nil {
		if _, err := submit(ir.Call{Op: engine.OpNameInit, Args: bundle}); err != nil {
			loop.Stop()
			<-done
			return nil, fmt.Errorf("init worker: %w", err)
		}
	}

	for i, step := range scenario.Steps {
		reply, callErr := submit(buildCall(step, bundle))
		for _, msg := range checkExpect(i, step, reply, callErr) {
			result.AddError(msg)
		}
		cfg.logger.Info("scenario step completed",
			"step", i,
			"op", step.Op,
			"code", engine.CodeOf(callErr),
		)
	}

	loop.Stop()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("worker loop: %w", err)
	}

	records, err := st.ReadRun(ctx, result.RunID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if len(records) != len(handled) {
		return nil, fmt.Errorf("journal has %d records for %d calls (run id reused?)", len(records), len(handled))
	}
	for i, rec := range records {
		result.Trace = append(result.Trace, traceEvent(rec, handled[i]))
	}

	actx := &AssertionContext{Worker: w, Compiler: factory.Created}
	result.final = actx
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

type handledCall struct {
	reply  ir.Reply
	cached []ir.ClientID
}

// initBundle encodes the scenario's init block. Without one, a bundle with
// only DefaultStdSchema is returned for explicit __init_worker__ steps.
func initBundle(spec *InitSpec) (ir.Blob, error) {
	if spec == nil {
		return ir.EncodeInitBundle(ir.InitBundle{StdSchema: ir.Blob(DefaultStdSchema)})
	}
	var params ir.RuntimeParams
	if len(spec.RuntimeParams) > 0 {
		var err error
		params, err = config.ValidateRuntimeParams(spec.RuntimeParams)
		if err != nil {
			return nil, fmt.Errorf("init: runtime_params: %w", err)
		}
	}
	return ir.EncodeInitBundle(ir.InitBundle{
		RuntimeParams:    params,
		StdSchema:        ir.Blob(spec.StdSchema),
		ReflectionSchema: blobOrNil(spec.ReflectionSchema),
		ClassLayout:      blobOrNil(spec.ClassLayout),
	})
}

// buildCall turns a step into a worker call.
func buildCall(step Step, bundle ir.Blob) ir.Call {
	call := ir.Call{Op: step.Op, Args: blobOrNil(step.Args)}
	if step.Op == engine.OpNameInit && step.Args == "" {
		call.Args = bundle
	}

	if step.Client != nil {
		cc := &ir.ClientContext{
			ID:   ir.ClientID(*step.Client),
			DB:   step.DB,
			Sync: step.Sync.Message(),
		}
		for _, id := range step.Invalidate {
			cc.Invalidate = append(cc.Invalidate, ir.ClientID(id))
		}
		call.Client = cc
	}

	switch {
	case step.ReuseLast:
		call.State = ir.ReuseLastState()
	case step.State != "":
		call.State = ir.StateBlob(testutil.EncodedState(step.State))
	case step.StateRaw != "":
		call.State = ir.StateBlob(ir.Blob(step.StateRaw))
	}
	return call
}

// checkExpect compares a reply with the step's expectation. A step without
// one must succeed.
func checkExpect(index int, step Step, reply ir.Reply, err error) []string {
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}
	prefix := fmt.Sprintf("steps[%d] (%s)", index, step.Op)

	got := string(engine.CodeOf(err))
	if got != want.Error {
		if want.Error == "" {
			return []string{fmt.Sprintf("%s: expected success, got %v", prefix, err)}
		}
		if err == nil {
			return []string{fmt.Sprintf("%s: expected %s, got success", prefix, want.Error)}
		}
		return []string{fmt.Sprintf("%s: expected %s, got %v", prefix, want.Error, err)}
	}

	var errs []string
	if want.Cause != "" {
		if cause := string(engine.CauseCode(err)); cause != want.Cause {
			errs = append(errs, fmt.Sprintf("%s: expected cause %s, got %s", prefix, want.Cause, cause))
		}
	}
	if err != nil {
		return errs
	}
	if want.Result != nil && reply.Result.String() != *want.Result {
		errs = append(errs, fmt.Sprintf("%s: expected result %q, got %q", prefix, *want.Result, reply.Result.String()))
	}
	if want.State != nil && (reply.State != nil) != *want.State {
		errs = append(errs, fmt.Sprintf("%s: expected state present=%t, got %t", prefix, *want.State, reply.State != nil))
	}
	return errs
}

func traceEvent(rec store.CallRecord, h handledCall) TraceEvent {
	ev := TraceEvent{
		Seq:      rec.Seq,
		Op:       rec.Op,
		DB:       rec.DB,
		SyncKind: rec.SyncKind,
		Evicted:  rec.Evicted,
		Outcome:  rec.Outcome,
		Result:   h.reply.Result.String(),
		State:    h.reply.State.String(),
		Cached:   make([]int64, 0, len(h.cached)),
	}
	if rec.HasClient {
		id := rec.ClientID
		ev.Client = &id
	}
	if rec.Cause != rec.Outcome {
		ev.Cause = rec.Cause
	}
	for _, id := range h.cached {
		ev.Cached = append(ev.Cached, int64(id))
	}
	return ev
}

func blobOrNil(s string) ir.Blob {
	if s == "" {
		return nil
	}
	return ir.Blob(s)
}
