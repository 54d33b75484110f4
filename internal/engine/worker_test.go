package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cpool/internal/engine"
	"github.com/roach88/cpool/internal/ir"
	"github.com/roach88/cpool/internal/metrics"
	"github.com/roach88/cpool/internal/schema"
	"github.com/roach88/cpool/internal/store"
	fake "github.com/roach88/cpool/internal/testutil"
)

type recordingJournal struct {
	records []store.CallRecord
	err     error
}

func (j *recordingJournal) RecordCall(_ context.Context, rec store.CallRecord) error {
	j.records = append(j.records, rec)
	return j.err
}

func initCall(t *testing.T) ir.Call {
	t.Helper()
	bundle, err := ir.EncodeInitBundle(ir.InitBundle{
		RuntimeParams:    ir.RuntimeParams{TenantID: "tenant-1", ServerVersion: "16.2", MaxBackendConnections: 10},
		StdSchema:        ir.Blob("STD"),
		ReflectionSchema: ir.Blob("REFL"),
		ClassLayout:      ir.Blob("LAYOUT"),
	})
	require.NoError(t, err)
	return ir.Call{Op: engine.OpNameInit, Args: bundle}
}

func newTestWorker(t *testing.T, opts ...engine.WorkerOption) (*engine.Worker, *fake.FakeFactory) {
	t.Helper()
	f := &fake.FakeFactory{}
	opts = append([]engine.WorkerOption{engine.WithRunID(fake.NewFixedRunID("run-1"))}, opts...)
	w := engine.NewWorker(f.New, opts...)
	_, err := w.Handle(context.Background(), initCall(t))
	require.NoError(t, err)
	return w, f
}

func shopSync() *ir.SyncMessage {
	return &ir.SyncMessage{
		DBs: map[string]ir.DBUpdate{"shop": {
			UserSchema:      ir.Replace(ir.Blob("A")),
			ReflectionCache: ir.Replace(ir.Blob("C1")),
			DatabaseConfig:  ir.Replace(ir.Blob("K1")),
		}},
		GlobalSchema:   ir.Replace(ir.Blob("G")),
		InstanceConfig: ir.Replace(ir.Blob("I")),
	}
}

func compileCall(id ir.ClientID, db string, sync *ir.SyncMessage, args string) ir.Call {
	return ir.Call{
		Op:     engine.OpNameCompile,
		Client: &ir.ClientContext{ID: id, DB: db, Sync: sync},
		Args:   ir.Blob(args),
	}
}

func TestWorker_UninitializedRejectsEverything(t *testing.T) {
	f := &fake.FakeFactory{}
	w := engine.NewWorker(f.New)
	ctx := context.Background()

	for _, op := range []string{"compile", "compile_in_tx", "describe_database_dump", "no_such_op"} {
		_, err := w.Handle(ctx, ir.Call{Op: op})
		require.Error(t, err, op)
		assert.ErrorIs(t, err, engine.ErrUninitializedWorker, op)
	}
	assert.False(t, w.Initialized())
	assert.Nil(t, f.Created, "no compiler before __init_worker__")
}

func TestWorker_InitOnce(t *testing.T) {
	w, f := newTestWorker(t)

	assert.True(t, w.Initialized())
	require.NotNil(t, f.Created)
	assert.Equal(t, "tenant-1", f.Created.Params.TenantID)
	assert.Equal(t, ir.Blob("STD"), f.Created.StdSchema)
	assert.Equal(t, ir.Blob("REFL"), f.Created.ReflectionSchema)
	assert.Equal(t, ir.Blob("LAYOUT"), f.Created.ClassLayout)
	assert.Equal(t, "16.2", w.RuntimeParams().ServerVersion)

	_, err := w.Handle(context.Background(), initCall(t))
	assert.ErrorIs(t, err, engine.ErrAlreadyInitialized)
	assert.Equal(t, 1, f.Created.InitCount)
}

func TestWorker_InitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed bundle", func(t *testing.T) {
		w := engine.NewWorker((&fake.FakeFactory{}).New)
		_, err := w.Handle(ctx, ir.Call{Op: engine.OpNameInit, Args: ir.Blob("junk")})
		assert.ErrorIs(t, err, engine.ErrProtocol)
		assert.False(t, w.Initialized())
	})

	t.Run("factory error", func(t *testing.T) {
		boom := errors.New("no backend")
		w := engine.NewWorker((&fake.FakeFactory{Err: boom}).New)
		_, err := w.Handle(ctx, initCall(t))
		assert.ErrorIs(t, err, boom)
		assert.False(t, w.Initialized())
	})

	t.Run("compiler initialize error", func(t *testing.T) {
		bundle, err := ir.EncodeInitBundle(ir.InitBundle{StdSchema: ir.Blob(fake.ArgsFail)})
		require.NoError(t, err)
		w := engine.NewWorker((&fake.FakeFactory{}).New)
		_, err = w.Handle(ctx, ir.Call{Op: engine.OpNameInit, Args: bundle})
		assert.ErrorIs(t, err, fake.ErrFakeCompile)
		assert.False(t, w.Initialized(), "a failed init can be retried")
	})
}

func TestWorker_CompileBindsSchemaSnapshot(t *testing.T) {
	w, f := newTestWorker(t)

	reply, err := w.Handle(context.Background(), compileCall(7, "shop", shopSync(), "select 1"))
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("units[select 1@A]"), reply.Result)
	assert.Nil(t, reply.State)

	require.Len(t, f.Created.Calls, 1)
	assert.Equal(t, "compile user=A global=G refl=C1 dbcfg=K1 inst=I args=select 1", f.Created.Calls[0].String())

	_, holding := w.Continuation()
	assert.False(t, holding, "no state produced, slot stays empty")
}

func TestWorker_CompileThenDiffSync(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "q1"))
	require.NoError(t, err)

	diff := &ir.SyncMessage{DBs: map[string]ir.DBUpdate{"shop": {ReflectionCache: ir.Replace(ir.Blob("C2"))}}}
	_, err = w.Handle(ctx, compileCall(7, "shop", diff, "q2"))
	require.NoError(t, err)

	assert.Equal(t, "compile user=A global=G refl=C2 dbcfg=K1 inst=I args=q2", f.Created.Calls[1].String())
}

// scribblingCompiler overwrites the payloads it is handed.
type scribblingCompiler struct {
	*fake.FakeCompiler
}

func (c scribblingCompiler) Compile(snap engine.SchemaSnapshot, args ir.Blob) (ir.Blob, engine.TxState, error) {
	for _, b := range [][]byte{snap.UserSchema, snap.GlobalSchema, snap.ReflectionCache, snap.DatabaseConfig, snap.InstanceConfig} {
		for i := range b {
			b[i] = 'X'
		}
	}
	return c.FakeCompiler.Compile(snap, args)
}

func TestWorker_CompilerCannotWriteIntoCache(t *testing.T) {
	f := &fake.FakeFactory{}
	w := engine.NewWorker(func(params ir.RuntimeParams) (engine.Compiler, error) {
		c, err := f.New(params)
		if err != nil {
			return nil, err
		}
		return scribblingCompiler{c.(*fake.FakeCompiler)}, nil
	})
	ctx := context.Background()
	_, err := w.Handle(ctx, initCall(t))
	require.NoError(t, err)

	_, err = w.Handle(ctx, compileCall(7, "shop", shopSync(), "q1"))
	require.NoError(t, err)
	_, err = w.Handle(ctx, compileCall(7, "shop", nil, "q2"))
	require.NoError(t, err)

	require.Len(t, f.Created.Calls, 2)
	assert.Equal(t, "compile user=X global=X refl=XX dbcfg=XX inst=X args=q2", f.Created.Calls[1].String())

	cs, ok := w.Cache().Get(7)
	require.True(t, ok)
	db, ok := cs.Database("shop")
	require.True(t, ok)
	assert.Equal(t, "A", db.UserSchema.String())
	assert.Equal(t, "C1", db.ReflectionCache.String())
	assert.Equal(t, "G", cs.GlobalSchema.String())
}

func TestWorker_SchemaBoundLookupFailures(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", nil, "q"))
	assert.ErrorIs(t, err, engine.ErrUnknownClient)
	assert.True(t, engine.IsSyncFailure(err))

	_, err = w.Handle(ctx, compileCall(7, "audit", shopSync(), "q"))
	assert.ErrorIs(t, err, engine.ErrUnknownDatabase)
	assert.False(t, engine.IsSyncFailure(err), "lookup miss after a good sync is not a sync failure")

	_, holding := w.Cache().Get(7)
	assert.True(t, holding, "the sync still applied")

	_, err = w.Handle(ctx, ir.Call{Op: engine.OpNameCompile, Args: ir.Blob("q")})
	assert.ErrorIs(t, err, engine.ErrProtocol, "schema-bound ops need a client context")

	assert.Empty(t, f.Created.Calls, "compiler never reached")
}

func TestWorker_NotebookAndGraphQL(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "warmup"))
	require.NoError(t, err)

	reply, err := w.Handle(ctx, ir.Call{
		Op:     engine.OpNameCompileNotebook,
		Client: &ir.ClientContext{ID: 7, DB: "shop"},
		Args:   ir.Blob("nb"),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("notebook[nb@A]"), reply.Result)
	assert.Nil(t, reply.State)

	reply, err = w.Handle(ctx, ir.Call{
		Op:     engine.OpNameCompileGraphQL,
		Client: &ir.ClientContext{ID: 7, DB: "shop"},
		Args:   ir.Blob("{ users }"),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("graphql[{ users }@STD+A]"), reply.Result)
	assert.Equal(t, "compile_graphql std=STD user=A global=G dbcfg=K1 inst=I args={ users }", f.Created.Calls[2].String())
}

func TestWorker_ContinuationLifecycle(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	// Marker before any state exists.
	_, err := w.Handle(ctx, ir.Call{Op: engine.OpNameCompileInTx, State: ir.ReuseLastState(), Args: ir.Blob("x")})
	assert.ErrorIs(t, err, engine.ErrStaleContinuationMarker)

	// compile opens a transaction: state X.
	reply, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "begin"))
	require.NoError(t, err)
	assert.Equal(t, fake.EncodedState("tx:begin"), reply.State)

	// Marker resolves to X and produces X'.
	reply, err = w.Handle(ctx, ir.Call{Op: engine.OpNameCompileInTx, State: ir.ReuseLastState(), Args: ir.Blob("insert")})
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("units[insert in tx:begin]"), reply.Result)
	assert.Equal(t, fake.EncodedState("tx:begin>insert"), reply.State)

	// Marker now resolves to X', not X.
	_, err = w.Handle(ctx, ir.Call{Op: engine.OpNameCompileInTx, State: ir.ReuseLastState(), Args: ir.Blob("commit")})
	require.NoError(t, err)
	last := f.Created.Calls[len(f.Created.Calls)-1]
	assert.Equal(t, "tx:begin>insert", last.State)

	st, ok := w.Continuation()
	require.True(t, ok)
	assert.Equal(t, fake.FakeState("tx:begin>insert>commit"), st)
}

func TestWorker_ExplicitStateRefreshesSlot(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	reply, err := w.Handle(ctx, ir.Call{
		Op:    engine.OpNameCompileInTx,
		State: ir.StateBlob(fake.EncodedState("other")),
		Args:  ir.Blob("q"),
	})
	require.NoError(t, err)
	assert.Equal(t, fake.EncodedState("other>q"), reply.State)

	st, ok := w.Continuation()
	require.True(t, ok)
	assert.Equal(t, fake.FakeState("other>q"), st)
}

func TestWorker_FailuresLeaveSlotUntouched(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "begin"))
	require.NoError(t, err)

	tests := []struct {
		name string
		call ir.Call
	}{
		{"compile_in_tx fails", ir.Call{Op: engine.OpNameCompileInTx, State: ir.ReuseLastState(), Args: ir.Blob("fail")}},
		{"undecodable state", ir.Call{Op: engine.OpNameCompileInTx, State: ir.StateBlob(ir.Blob("junk")), Args: ir.Blob("q")}},
		{"compile fails", compileCall(7, "shop", nil, "fail")},
		{"state fails to encode", compileCall(7, "shop", nil, "unencodable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Handle(ctx, tt.call)
			require.Error(t, err)

			st, ok := w.Continuation()
			require.True(t, ok)
			assert.Equal(t, fake.FakeState("tx:begin"), st)
		})
	}
}

func TestWorker_StateBoundRejectsClientContext(t *testing.T) {
	w, _ := newTestWorker(t)

	_, err := w.Handle(context.Background(), ir.Call{
		Op:     engine.OpNameCompileInTx,
		Client: &ir.ClientContext{ID: 7},
		State:  ir.StateBlob(fake.EncodedState("s")),
	})
	assert.ErrorIs(t, err, engine.ErrProtocol)
	assert.Equal(t, 0, w.Cache().Len(), "state-bound ops never touch the cache")
}

func TestWorker_TryCompileRollback(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	reply, err := w.Handle(ctx, ir.Call{
		Op:    engine.OpNameTryCompileRollback,
		State: ir.StateBlob(fake.EncodedState("s1")),
		Args:  ir.Blob("rollback"),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("rollback[rollback]"), reply.Result)
	assert.Nil(t, reply.State)
	assert.Equal(t, "s1", f.Created.Calls[0].State)

	_, held := w.Continuation()
	assert.False(t, held, "rollback probing never fills the slot")

	_, err = w.Handle(ctx, ir.Call{Op: engine.OpNameTryCompileRollback, State: ir.ReuseLastState()})
	assert.ErrorIs(t, err, engine.ErrProtocol)

	_, err = w.Handle(ctx, ir.Call{Op: engine.OpNameTryCompileRollback, Args: ir.Blob("rollback")})
	require.NoError(t, err, "state is optional")
}

func TestWorker_Passthrough(t *testing.T) {
	w, f := newTestWorker(t)
	ctx := context.Background()

	reply, err := w.Handle(ctx, ir.Call{Op: "describe_database_dump", Args: ir.Blob("d")})
	require.NoError(t, err)
	assert.Equal(t, ir.Blob("describe_database_dump(d)"), reply.Result)

	// With a client context the sync runs first.
	_, err = w.Handle(ctx, ir.Call{
		Op:     "interpret_backend_error",
		Client: &ir.ClientContext{ID: 7, DB: "shop", Sync: shopSync()},
		Args:   ir.Blob("e"),
	})
	require.NoError(t, err)
	assert.Equal(t, "interpret_backend_error client=7/shop args=e", f.Created.Calls[1].String())
	_, ok := w.Cache().Get(7)
	assert.True(t, ok)

	_, err = w.Handle(ctx, ir.Call{Op: "drop_all_tables"})
	assert.ErrorIs(t, err, engine.ErrUnknownOperation)
	assert.Len(t, f.Created.Calls, 2)
}

func TestWorker_PassthroughAllowlistOverride(t *testing.T) {
	w, _ := newTestWorker(t, engine.WithPassthrough("custom_op"))
	ctx := context.Background()

	_, err := w.Handle(ctx, ir.Call{Op: "custom_op"})
	require.NoError(t, err)

	_, err = w.Handle(ctx, ir.Call{Op: "describe_database_dump"})
	assert.ErrorIs(t, err, engine.ErrUnknownOperation)
}

func TestWorker_InvalidationOnCall(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "q"))
	require.NoError(t, err)
	_, err = w.Handle(ctx, compileCall(8, "shop", shopSync(), "q"))
	require.NoError(t, err)

	call := compileCall(8, "shop", nil, "q")
	call.Client.Invalidate = []ir.ClientID{7}
	_, err = w.Handle(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, []ir.ClientID{8}, w.Cache().ClientIDs())

	_, err = w.Handle(ctx, compileCall(7, "shop", nil, "q"))
	assert.ErrorIs(t, err, engine.ErrUnknownClient)

	_, err = w.Handle(ctx, compileCall(7, "shop", shopSync(), "q"))
	require.NoError(t, err)
	assert.Equal(t, []ir.ClientID{7, 8}, w.Cache().ClientIDs())
}

func TestWorker_FailedSyncKeepsEvictions(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "q"))
	require.NoError(t, err)

	bad := compileCall(9, "shop", &ir.SyncMessage{DBs: map[string]ir.DBUpdate{}}, "q")
	bad.Client.Invalidate = []ir.ClientID{7}
	_, err = w.Handle(ctx, bad)
	require.Error(t, err)
	assert.True(t, engine.IsProtocolError(err))
	assert.Equal(t, 0, w.Cache().Len())
}

func TestWorker_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	w, _ := newTestWorker(t, engine.WithMetrics(m))
	ctx := context.Background()

	_, _ = w.Handle(ctx, compileCall(7, "shop", shopSync(), "begin"))
	_, _ = w.Handle(ctx, ir.Call{Op: engine.OpNameCompileInTx, State: ir.ReuseLastState(), Args: ir.Blob("q")})
	_, _ = w.Handle(ctx, compileCall(9, "shop", nil, "q"))
	_, _ = w.Handle(ctx, ir.Call{Op: "bogus"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsTotal.WithLabelValues("full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncFailuresTotal.WithLabelValues("UNKNOWN_CLIENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContinuationReuseTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("compile", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("compile", metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("unrecognized", metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CachedClients))
}

func TestWorker_Journal(t *testing.T) {
	j := &recordingJournal{}
	w, _ := newTestWorker(t, engine.WithJournal(j), engine.WithClock(fake.NewDeterministicClock()))
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "begin"))
	require.NoError(t, err)
	_, err = w.Handle(ctx, compileCall(9, "shop", nil, "q"))
	require.Error(t, err)

	// __init_worker__ is journaled too.
	require.Len(t, j.records, 3)

	assert.Equal(t, store.CallRecord{
		RunID:      "run-1",
		Seq:        1,
		Op:         engine.OpNameInit,
		Outcome:    store.OutcomeOK,
		ArgsDigest: ir.ArgsDigest(initCall(t).Args),
	}, j.records[0])

	shop := schema.NewDatabaseState("shop", ir.Blob("A"), ir.Blob("C1"), ir.Blob("K1"))
	assert.Equal(t, store.CallRecord{
		RunID:         "run-1",
		Seq:           2,
		Op:            engine.OpNameCompile,
		ClientID:      7,
		HasClient:     true,
		DB:            "shop",
		SyncKind:      "full",
		Outcome:       store.OutcomeOK,
		ArgsDigest:    ir.ArgsDigest(ir.Blob("begin")),
		ResultDigest:  ir.ResultDigest(ir.Blob("units[begin@A]")),
		StateDigest:   ir.StateDigest(fake.EncodedState("tx:begin")),
		DBFingerprint: fmt.Sprintf("%016x", shop.Fingerprint()),
	}, j.records[1])

	assert.Equal(t, "SYNC_FAILURE", j.records[2].Outcome)
	assert.Equal(t, "UNKNOWN_CLIENT", j.records[2].Cause)
	assert.Equal(t, "none", j.records[2].SyncKind)
	assert.Empty(t, j.records[2].ResultDigest)
	assert.Empty(t, j.records[2].DBFingerprint, "no schema was bound")
}

func TestWorker_JournalFingerprintFollowsDiff(t *testing.T) {
	j := &recordingJournal{}
	w, _ := newTestWorker(t, engine.WithJournal(j))
	ctx := context.Background()

	_, err := w.Handle(ctx, compileCall(7, "shop", shopSync(), "q1"))
	require.NoError(t, err)
	_, err = w.Handle(ctx, compileCall(7, "shop", nil, "q2"))
	require.NoError(t, err)
	diff := &ir.SyncMessage{DBs: map[string]ir.DBUpdate{"shop": {ReflectionCache: ir.Replace(ir.Blob("C2"))}}}
	_, err = w.Handle(ctx, compileCall(7, "shop", diff, "q3"))
	require.NoError(t, err)

	require.Len(t, j.records, 4)
	assert.NotEmpty(t, j.records[1].DBFingerprint)
	assert.Equal(t, j.records[1].DBFingerprint, j.records[2].DBFingerprint, "same schema, same fingerprint")
	assert.NotEqual(t, j.records[2].DBFingerprint, j.records[3].DBFingerprint, "diff changes the fingerprint")
}

func TestWorker_LogsClientOnlyWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w, _ := newTestWorker(t, engine.WithLogger(logger))
	ctx := context.Background()

	_, err := w.Handle(ctx, ir.Call{Op: "no_such_op"})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "call failed")
	assert.NotContains(t, buf.String(), "client_id")

	buf.Reset()
	_, err = w.Handle(ctx, compileCall(9, "shop", nil, "q"))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "client_id=9")

	buf.Reset()
	_, err = w.Handle(ctx, compileCall(7, "shop", shopSync(), "q1"))
	require.NoError(t, err)
	diff := &ir.SyncMessage{DBs: map[string]ir.DBUpdate{"shop": {ReflectionCache: ir.Replace(ir.Blob("C2"))}}}
	_, err = w.Handle(ctx, compileCall(7, "shop", diff, "q2"))
	require.NoError(t, err)

	updated := schema.NewDatabaseState("shop", ir.Blob("A"), ir.Blob("C2"), ir.Blob("K1"))
	assert.Contains(t, buf.String(), fmt.Sprintf("fingerprint=%016x", updated.Fingerprint()))
}

func TestWorker_JournalFailureDoesNotFailCall(t *testing.T) {
	j := &recordingJournal{err: errors.New("disk full")}
	w, _ := newTestWorker(t, engine.WithJournal(j))

	_, err := w.Handle(context.Background(), compileCall(7, "shop", shopSync(), "q"))
	assert.NoError(t, err)
}

func TestWorker_IndependentWorkersShareNothing(t *testing.T) {
	w1, _ := newTestWorker(t)
	w2, _ := newTestWorker(t)
	ctx := context.Background()

	_, err := w1.Handle(ctx, compileCall(7, "shop", shopSync(), "begin"))
	require.NoError(t, err)

	assert.Equal(t, 0, w2.Cache().Len())
	_, held := w2.Continuation()
	assert.False(t, held)
}
