package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cpool/internal/store"
)

// journalRun runs the minimal scenario into a fresh journal and returns the
// journal path and run id.
func journalRun(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	journal := filepath.Join(t.TempDir(), "journal.db")

	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir, "--journal", journal)
	require.NoError(t, err)

	st, err := store.Open(journal)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return journal, runs[0].RunID
}

func runTraceCmd(format string, args ...string) (string, error) {
	return execute(NewTraceCommand(&RootOptions{Format: format}), args...)
}

func TestTraceNoJournal(t *testing.T) {
	_, err := runTraceCmd("text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTraceNonExistentDatabase(t *testing.T) {
	_, err := runTraceCmd("text", "--db", "/nonexistent/journal.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal not found")
}

func TestTraceRunAndClientExclusive(t *testing.T) {
	journal, runID := journalRun(t)
	_, err := runTraceCmd("text", "--db", journal, "--run", runID, "--client", "7")
	require.Error(t, err)
}

func TestTraceListRuns(t *testing.T) {
	journal, runID := journalRun(t)

	out, err := runTraceCmd("text", "--db", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, runID)

	out, err = runTraceCmd("json", "--db", journal)
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   []TraceRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, TraceRun{RunID: runID, Calls: 2, Failures: 0, LastSeq: 2}, resp.Data[0])
}

func TestTraceRun(t *testing.T) {
	journal, runID := journalRun(t)

	out, err := runTraceCmd("text", "--db", journal, "--run", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for run: "+runID)
	assert.Contains(t, out, "  [1] __init_worker__ -> OK")
	assert.Regexp(t, `  \[2\] compile client=7 db=shop sync=full schema=[0-9a-f]{16} -> OK`, out)
	assert.Contains(t, out, "  Calls:         2")
	assert.Contains(t, out, "  Full syncs:    1")
}

func TestTraceRunJSON(t *testing.T) {
	journal, runID := journalRun(t)

	out, err := runTraceCmd("json", "--db", journal, "--run", runID)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, runID, resp.Data.RunID)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Nil(t, resp.Data.Timeline[0].ClientID)
	require.NotNil(t, resp.Data.Timeline[1].ClientID)
	assert.Equal(t, int64(7), *resp.Data.Timeline[1].ClientID)
	assert.Len(t, resp.Data.Timeline[1].Args, 64)
	assert.Len(t, resp.Data.Timeline[1].Result, 64)
	assert.Len(t, resp.Data.Timeline[1].Schema, 16)
	assert.Empty(t, resp.Data.Timeline[0].Schema)
	assert.Equal(t, 1, resp.Data.Stats.Syncs["full"])
}

func TestTraceClient(t *testing.T) {
	journal, runID := journalRun(t)

	out, err := runTraceCmd("text", "--db", journal, "--client", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for client: 7")
	assert.Contains(t, out, "["+runID+" #2] compile client=7")
	assert.NotContains(t, out, "__init_worker__")
}

func TestTraceUnknownRun(t *testing.T) {
	journal, _ := journalRun(t)

	out, err := runTraceCmd("text", "--db", journal, "--run", "no-such-run")
	require.NoError(t, err)
	assert.Contains(t, out, "(no calls)")
}

func TestBuildTimeline_CauseOnlyWhenDifferent(t *testing.T) {
	timeline := buildTimeline([]store.CallRecord{
		{Seq: 1, Op: "compile", HasClient: true, ClientID: 3, SyncKind: "none", Outcome: "SYNC_FAILURE", Cause: "UNKNOWN_CLIENT"},
		{Seq: 2, Op: "compile_in_tx", Outcome: "STALE_CONTINUATION_MARKER", Cause: "STALE_CONTINUATION_MARKER"},
	})

	require.Len(t, timeline, 2)
	assert.Equal(t, "UNKNOWN_CLIENT", timeline[0].Cause)
	assert.Empty(t, timeline[1].Cause)

	timeline = buildTimeline([]store.CallRecord{
		{Seq: 1, Op: "compile", Outcome: store.OutcomeOK, ArgsDigest: "a1", ResultDigest: "r1", DBFingerprint: "00000000000000ff"},
	})
	require.Len(t, timeline, 1)
	assert.Equal(t, "a1", timeline[0].Args)
	assert.Equal(t, "r1", timeline[0].Result)
	assert.Equal(t, "00000000000000ff", timeline[0].Schema)

	stats := buildStats([]store.CallRecord{
		{Outcome: store.OutcomeOK, SyncKind: "diff", Evicted: 2, StateDigest: "abc"},
		{Outcome: "SYNC_FAILURE", SyncKind: "none"},
	})
	assert.Equal(t, TraceStats{
		Calls:        2,
		Failures:     1,
		Syncs:        map[string]int{"diff": 1, "none": 1},
		Evictions:    2,
		StatesIssued: 1,
	}, stats)
}
