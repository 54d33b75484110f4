package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/cpool/internal/ir"
	"github.com/roach88/cpool/internal/metrics"
	"github.com/roach88/cpool/internal/schema"
	"github.com/roach88/cpool/internal/store"
)

// Journal receives one record per handled call. Implemented by
// *store.Store.
type Journal interface {
	RecordCall(ctx context.Context, rec store.CallRecord) error
}

// RunIDGenerator names a worker run. UUIDv7Generator is the production
// implementation.
type RunIDGenerator interface {
	Generate() string
}

// SeqClock issues call sequence numbers. Implemented by *Clock and by
// testutil.DeterministicClock.
type SeqClock interface {
	Next() int64
}

// Worker is the whole mutable state of one compiler worker process: the
// compiler engine, the schema cache and the continuation slot.
//
// CRITICAL: a Worker is owned by exactly one goroutine (see Loop). Handle
// must never be called concurrently; nothing inside is locked. Independent
// Workers share nothing and may coexist freely.
type Worker struct {
	newCompiler CompilerFactory
	passthrough Allowlist
	log         *slog.Logger
	metrics     *metrics.Worker
	journal     Journal
	clock       SeqClock
	runID       string

	compiler  Compiler
	stdSchema ir.Blob
	params    ir.RuntimeParams
	cache     schema.Cache
	slot      Continuation
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.log = l
	}
}

// WithMetrics sets the metrics collectors. Default: none.
func WithMetrics(m *metrics.Worker) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithJournal records every call. A failing journal write is logged and
// never fails the call.
func WithJournal(j Journal) WorkerOption {
	return func(w *Worker) {
		w.journal = j
	}
}

// WithPassthrough replaces the passthrough allowlist. Default:
// DefaultPassthrough.
func WithPassthrough(names ...string) WorkerOption {
	return func(w *Worker) {
		w.passthrough = NewAllowlist(names...)
	}
}

// WithClock sets the call sequence clock. Default: a new Clock.
func WithClock(c SeqClock) WorkerOption {
	return func(w *Worker) {
		w.clock = c
	}
}

// WithRunID names the run with a token from gen. Default: a UUIDv7.
func WithRunID(gen RunIDGenerator) WorkerOption {
	return func(w *Worker) {
		w.runID = gen.Generate()
	}
}

// NewWorker creates an uninitialized worker. The compiler is constructed by
// factory when __init_worker__ arrives.
func NewWorker(factory CompilerFactory, opts ...WorkerOption) *Worker {
	w := &Worker{
		newCompiler: factory,
		passthrough: NewAllowlist(DefaultPassthrough...),
		log:         slog.Default(),
		clock:       NewClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.runID == "" {
		w.runID = UUIDv7Generator{}.Generate()
	}
	w.log = w.log.With("run_id", w.runID)
	return w
}

// Initialized reports whether __init_worker__ has completed.
func (w *Worker) Initialized() bool {
	return w.compiler != nil
}

// RuntimeParams returns the parameters from the init bundle.
func (w *Worker) RuntimeParams() ir.RuntimeParams {
	return w.params
}

// Cache returns the current schema cache value.
func (w *Worker) Cache() schema.Cache {
	return w.cache
}

// Continuation returns the held transaction state.
func (w *Worker) Continuation() (TxState, bool) {
	return w.slot.Current()
}

// RunID returns the token identifying this worker run.
func (w *Worker) RunID() string {
	return w.runID
}

// callTrace collects what a call did for the journal.
type callTrace struct {
	sync        SyncOutcome
	fingerprint string
}

// Handle runs one call to completion.
//
// Control flow: evict invalidated clients, apply the sync message, resolve
// the bound state (schema snapshot or continuation), run the compiler,
// retain any new transaction state, reply.
func (w *Worker) Handle(ctx context.Context, call ir.Call) (ir.Reply, error) {
	seq := w.clock.Next()
	var trace callTrace

	reply, err := w.dispatch(call, &trace)

	w.metrics.RecordCall(w.opLabel(call.Op), err == nil)
	w.metrics.SetCachedClients(w.cache.Len())
	if err != nil {
		attrs := []any{"seq", seq, "op", call.Op}
		if call.Client != nil {
			attrs = append(attrs, "client_id", int64(call.Client.ID))
		}
		attrs = append(attrs, "code", CodeOf(err), "error", err)
		w.log.Error("call failed", attrs...)
	} else {
		w.log.Debug("call handled",
			"seq", seq,
			"op", call.Op,
			"has_state", reply.State != nil,
		)
	}
	w.record(ctx, seq, call, trace, reply, err)

	return reply, err
}

func (w *Worker) dispatch(call ir.Call, trace *callTrace) (ir.Reply, error) {
	if call.Op == OpNameInit {
		return ir.Reply{}, w.initialize(call)
	}
	if !w.Initialized() {
		return ir.Reply{}, newUninitializedError(call.Op)
	}

	kind, err := w.passthrough.Resolve(call.Op)
	if err != nil {
		return ir.Reply{}, err
	}

	switch kind.Binding() {
	case BindingSchema:
		return w.dispatchSchemaBound(kind, call, trace)
	case BindingState:
		if call.Client != nil {
			return ir.Reply{}, newProtocolError("%s does not take a client context", call.Op)
		}
		if kind == OpCompileInTx {
			return w.compileInTx(call)
		}
		return w.tryCompileRollback(call)
	default:
		return w.dispatchPassthrough(call, trace)
	}
}

// initialize handles __init_worker__.
func (w *Worker) initialize(call ir.Call) error {
	if w.Initialized() {
		return newAlreadyInitializedError()
	}
	bundle, err := ir.DecodeInitBundle(call.Args)
	if err != nil {
		perr := newProtocolError("invalid init bundle")
		perr.Err = err
		return perr
	}
	c, err := w.newCompiler(bundle.RuntimeParams)
	if err != nil {
		return fmt.Errorf("create compiler: %w", err)
	}
	if err := c.Initialize(bundle.StdSchema, bundle.ReflectionSchema, bundle.ClassLayout); err != nil {
		return fmt.Errorf("initialize compiler: %w", err)
	}

	w.compiler = c
	w.stdSchema = bundle.StdSchema
	w.params = bundle.RuntimeParams
	w.log.Info("worker initialized",
		"tenant_id", bundle.RuntimeParams.TenantID,
		"server_version", bundle.RuntimeParams.ServerVersion,
	)
	return nil
}

// syncClient applies the call's invalidations and sync message. The cache
// is replaced even on failure: evictions stay applied.
func (w *Worker) syncClient(cc *ir.ClientContext, trace *callTrace) error {
	next, outcome, err := ApplySync(w.cache, cc.ID, cc.Sync, cc.Invalidate)
	w.cache = next
	trace.sync = outcome

	w.metrics.RecordEvictions(outcome.Evicted)
	if outcome.Evicted > 0 {
		w.log.Debug("clients evicted", "count", outcome.Evicted, "remaining", w.cache.Len())
	}
	if err != nil {
		w.metrics.RecordSyncFailure(string(CauseCode(err)))
		return err
	}
	w.metrics.RecordSync(string(outcome.Kind))

	switch outcome.Kind {
	case SyncFull:
		w.log.Debug("full sync", "client_id", cc.ID, "dbs", outcome.Added)
	case SyncDiff:
		cs, _ := w.cache.Get(cc.ID)
		for _, db := range outcome.Added {
			w.log.Debug("diff sync add", "client_id", cc.ID, "db", db, "fingerprint", dbFingerprint(cs, db))
		}
		for _, db := range outcome.Updated {
			w.log.Debug("diff sync update", "client_id", cc.ID, "db", db, "fingerprint", dbFingerprint(cs, db))
		}
		for _, db := range outcome.Dropped {
			w.log.Debug("diff sync drop", "client_id", cc.ID, "db", db)
		}
	}
	return nil
}

// resolveSchema looks up the client's entry and database after a sync.
func (w *Worker) resolveSchema(cc *ir.ClientContext) (schema.ClientSchema, schema.DatabaseState, error) {
	cs, ok := w.cache.Get(cc.ID)
	if !ok {
		return schema.ClientSchema{}, schema.DatabaseState{}, newUnknownClientError(cc.ID)
	}
	db, ok := cs.Database(cc.DB)
	if !ok {
		return schema.ClientSchema{}, schema.DatabaseState{}, newUnknownDatabaseError(cc.ID, cc.DB)
	}
	return cs, db, nil
}

func (w *Worker) dispatchSchemaBound(kind OpKind, call ir.Call, trace *callTrace) (ir.Reply, error) {
	cc := call.Client
	if cc == nil {
		return ir.Reply{}, newProtocolError("%s requires a client context", call.Op)
	}
	if err := w.syncClient(cc, trace); err != nil {
		return ir.Reply{}, err
	}
	cs, db, err := w.resolveSchema(cc)
	if err != nil {
		return ir.Reply{}, err
	}
	trace.fingerprint = formatFingerprint(db.Fingerprint())

	switch kind {
	case OpCompile:
		units, state, err := w.compiler.Compile(snapshotOf(cs, db), call.Args)
		if err != nil {
			return ir.Reply{}, fmt.Errorf("compile: %w", err)
		}
		return w.retain(units, state)

	case OpCompileNotebook:
		result, err := w.compiler.CompileNotebook(snapshotOf(cs, db), call.Args)
		if err != nil {
			return ir.Reply{}, fmt.Errorf("compile_notebook: %w", err)
		}
		return ir.Reply{Result: result}, nil

	default:
		result, err := w.compiler.CompileGraphQL(graphQLSnapshotOf(w.stdSchema, cs, db), call.Args)
		if err != nil {
			return ir.Reply{}, fmt.Errorf("compile_graphql: %w", err)
		}
		return ir.Reply{Result: result}, nil
	}
}

func (w *Worker) compileInTx(call ir.Call) (ir.Reply, error) {
	state, reused, err := w.slot.Resolve(call.State, w.compiler.DecodeState)
	if err != nil {
		return ir.Reply{}, err
	}
	if reused {
		w.metrics.RecordContinuationReuse()
		w.log.Debug("continuation marker resolved")
	}

	units, next, err := w.compiler.CompileInTx(state, call.Args)
	if err != nil {
		return ir.Reply{}, fmt.Errorf("compile_in_tx: %w", err)
	}
	if next == nil {
		return ir.Reply{}, fmt.Errorf("compile_in_tx: compiler returned no transaction state")
	}
	return w.retain(units, next)
}

// tryCompileRollback runs on a caller-supplied state only; the marker is
// rejected and the slot is neither read nor written.
func (w *Worker) tryCompileRollback(call ir.Call) (ir.Reply, error) {
	if call.State.IsMarker() {
		return ir.Reply{}, newProtocolError("%s does not accept the continuation marker", call.Op)
	}
	var state TxState
	if call.State.Blob != nil {
		var err error
		state, _, err = w.slot.Resolve(call.State, w.compiler.DecodeState)
		if err != nil {
			return ir.Reply{}, err
		}
	}
	result, err := w.compiler.TryCompileRollback(state, call.Args)
	if err != nil {
		return ir.Reply{}, fmt.Errorf("try_compile_rollback: %w", err)
	}
	return ir.Reply{Result: result}, nil
}

func (w *Worker) dispatchPassthrough(call ir.Call, trace *callTrace) (ir.Reply, error) {
	pc := PassthroughCall{Op: call.Op, Args: call.Args}
	if cc := call.Client; cc != nil {
		if err := w.syncClient(cc, trace); err != nil {
			return ir.Reply{}, err
		}
		pc.Client, pc.HasClient, pc.DB = cc.ID, true, cc.DB
	}
	result, err := w.compiler.Call(pc)
	if err != nil {
		return ir.Reply{}, fmt.Errorf("%s: %w", call.Op, err)
	}
	return ir.Reply{Result: result}, nil
}

// retain encodes a newly produced state and, only once that succeeded,
// stores it in the continuation slot. A nil state leaves the slot alone.
func (w *Worker) retain(result ir.Blob, state TxState) (ir.Reply, error) {
	if state == nil {
		return ir.Reply{Result: result}, nil
	}
	encoded, err := w.compiler.EncodeState(state)
	if err != nil {
		return ir.Reply{}, fmt.Errorf("encode transaction state: %w", err)
	}
	w.slot.Store(state)
	return ir.Reply{Result: result, State: encoded}, nil
}

// snapshotOf copies the cached payloads handed to the compiler, so a
// compiler writing into its arguments cannot reach the cache.
func snapshotOf(cs schema.ClientSchema, db schema.DatabaseState) SchemaSnapshot {
	return SchemaSnapshot{
		UserSchema:      db.UserSchema.Clone(),
		GlobalSchema:    cs.GlobalSchema.Clone(),
		ReflectionCache: db.ReflectionCache.Clone(),
		DatabaseConfig:  db.DatabaseConfig.Clone(),
		InstanceConfig:  cs.InstanceConfig.Clone(),
	}
}

func graphQLSnapshotOf(std ir.Blob, cs schema.ClientSchema, db schema.DatabaseState) GraphQLSnapshot {
	return GraphQLSnapshot{
		StdSchema:      std.Clone(),
		UserSchema:     db.UserSchema.Clone(),
		GlobalSchema:   cs.GlobalSchema.Clone(),
		DatabaseConfig: db.DatabaseConfig.Clone(),
		InstanceConfig: cs.InstanceConfig.Clone(),
	}
}

// opLabel bounds metric label cardinality to known operation names.
func (w *Worker) opLabel(op string) string {
	if _, err := w.passthrough.Resolve(op); err != nil {
		return "unrecognized"
	}
	return op
}

// record writes the call to the journal, if one is configured.
func (w *Worker) record(ctx context.Context, seq int64, call ir.Call, trace callTrace, reply ir.Reply, callErr error) {
	if w.journal == nil {
		return
	}
	rec := store.CallRecord{
		RunID:         w.runID,
		Seq:           seq,
		Op:            call.Op,
		SyncKind:      string(trace.sync.Kind),
		Evicted:       trace.sync.Evicted,
		Outcome:       store.OutcomeOK,
		ArgsDigest:    ir.ArgsDigest(call.Args),
		ResultDigest:  ir.ResultDigest(reply.Result),
		StateDigest:   ir.StateDigest(reply.State),
		DBFingerprint: trace.fingerprint,
	}
	if call.Client != nil {
		rec.ClientID = int64(call.Client.ID)
		rec.HasClient = true
		rec.DB = call.Client.DB
	}
	if callErr != nil {
		rec.Outcome = string(CodeOf(callErr))
		rec.Cause = string(CauseCode(callErr))
	}
	if err := w.journal.RecordCall(ctx, rec); err != nil {
		w.log.Warn("journal write failed", "seq", seq, "error", err)
	}
}

func formatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

func dbFingerprint(cs schema.ClientSchema, name string) string {
	db, ok := cs.Database(name)
	if !ok {
		return ""
	}
	return formatFingerprint(db.Fingerprint())
}
