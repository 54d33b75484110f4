package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cpool/internal/config"
	"github.com/roach88/cpool/internal/store"
)

func newTestCmd(format string) (*RootOptions, func(args ...string) (string, error)) {
	opts := &RootOptions{Format: format}
	return opts, func(args ...string) (string, error) {
		return execute(NewTestCommand(opts), args...)
	}
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, run := newTestCmd("text")
	_, err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, run := newTestCmd("text")
	_, err := run("/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandNoScenarios(t *testing.T) {
	_, run := newTestCmd("text")
	out, err := run(t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandRepositoryScenarios(t *testing.T) {
	_, run := newTestCmd("text")
	out, err := run(
		filepath.Join("..", "..", "testdata", "scenarios"),
		"--golden", filepath.Join("..", "harness", "testdata", "golden"),
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ full_then_diff")
	assert.Contains(t, out, "Test Summary: 6 passed, 0 failed, 6 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	_, run := newTestCmd("text")
	out, err := run(dir, "--filter", "min*")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")

	_, err = run(dir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "failing.yaml", failingScenario)

	_, run := newTestCmd("text")
	out, err := run(dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, `expected result "something else", got "units[q@A]"`)
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\nbogus_field: 1\n")

	_, run := newTestCmd("text")
	out, err := run(dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	goldenPath := filepath.Join(dir, "golden", "minimal.golden")

	_, run := newTestCmd("text")
	_, err := run(dir, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "minimal"`)
	assert.Contains(t, string(golden), `"run_id": "test-run-default"`)

	out, err := run(dir)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err = run(dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	_, run := newTestCmd("json")
	out, err := run(dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, 2, resp.Data.Total)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandJournal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	journal := filepath.Join(t.TempDir(), "journal.db")

	_, run := newTestCmd("text")
	_, err := run(dir, "--update")
	require.NoError(t, err)

	// Two journaled runs of the same scenario get distinct run ids and
	// still match the golden file rendered under the fixed id.
	for i := 0; i < 2; i++ {
		out, err := run(dir, "--journal", journal)
		require.NoError(t, err, out)
	}

	st, err := store.Open(journal)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		id, err := uuid.Parse(r.RunID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
		assert.Equal(t, 2, r.Calls)
		assert.Equal(t, 0, r.Failures)
	}
}

func TestTestCommandJournalFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)
	journal := filepath.Join(t.TempDir(), "journal.db")

	opts, run := newTestCmd("text")
	opts.Config = config.Default()
	opts.Config.Journal.Path = journal

	_, err := run(dir)
	require.NoError(t, err)

	_, err = os.Stat(journal)
	require.NoError(t, err)
}

func TestTestCommandMetrics(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "minimal.yaml", minimalScenario)

	_, run := newTestCmd("text")
	out, err := run(dir, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, `cpool_worker_calls_total{op="compile",outcome="ok"} 1`)
	assert.Contains(t, out, `cpool_worker_syncs_total{kind="full"} 1`)
}

func TestTestCommandPassthroughFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "custom.yaml", `
name: custom
description: "A passthrough name added by configuration"
init:
  std_schema: STD
steps:
  - op: custom_op
    args: x
    expect:
      result: "custom_op(x)"
`)

	_, run := newTestCmd("text")
	_, err := run(dir)
	require.Error(t, err, "custom_op is not in the default allowlist")

	opts, run := newTestCmd("text")
	opts.Config = config.Default()
	opts.Config.Worker.Passthrough = []string{"custom_op"}
	out, err := run(dir)
	require.NoError(t, err, out)
}
