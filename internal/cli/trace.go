package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cpool/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	ClientID int64
	ByClient bool
}

// TraceCall is one journaled call in the timeline.
type TraceCall struct {
	RunID    string `json:"run_id"`
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	ClientID *int64 `json:"client_id,omitempty"`
	DB       string `json:"db,omitempty"`
	SyncKind string `json:"sync,omitempty"`
	Evicted  int    `json:"evicted,omitempty"`
	Outcome  string `json:"outcome"`
	Cause    string `json:"cause,omitempty"`
	Args     string `json:"args_digest,omitempty"`
	Result   string `json:"result_digest,omitempty"`
	State    string `json:"state_digest,omitempty"`
	Schema   string `json:"db_fingerprint,omitempty"`
}

// TraceStats holds summary statistics for the timeline.
type TraceStats struct {
	Calls        int            `json:"calls"`
	Failures     int            `json:"failures"`
	Syncs        map[string]int `json:"syncs"`
	Evictions    int            `json:"evictions"`
	StatesIssued int            `json:"states_issued"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string      `json:"run_id,omitempty"`
	ClientID *int64      `json:"client_id,omitempty"`
	Timeline []TraceCall `json:"timeline"`
	Stats    TraceStats  `json:"stats"`
}

// TraceRun summarizes one journaled run.
type TraceRun struct {
	RunID    string `json:"run_id"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
	LastSeq  int64  `json:"last_seq"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a call journal",
		Long: `Inspect the SQLite call journal written by "cpool test --journal".

Without --run or --client, lists every journaled run. With --run, shows
the timeline of one worker run. With --client, shows every call made for
one client across all runs.

Examples:
  cpool trace --db ./cpool.db
  cpool trace --db ./cpool.db --run 01923f5e-7c1a-7d2b-9e4f-0a1b2c3d4e5f
  cpool trace --db ./cpool.db --client 7 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ByClient = cmd.Flags().Changed("client")
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (default journal.path)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace")
	cmd.Flags().Int64Var(&opts.ClientID, "client", 0, "client id to trace")
	cmd.MarkFlagsMutuallyExclusive("run", "client")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	path := opts.Database
	if path == "" {
		path = opts.cfg().Journal.Path
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal: pass --db or set journal.path")
	}
	// store.Open would create an empty journal.
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	if opts.RunID == "" && !opts.ByClient {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return outputRuns(cmd, opts.Format, runs)
	}

	var (
		records []store.CallRecord
		result  TraceResult
	)
	if opts.ByClient {
		id := opts.ClientID
		result.ClientID = &id
		records, err = st.ReadClient(ctx, id)
	} else {
		result.RunID = opts.RunID
		records, err = st.ReadRun(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result.Timeline = buildTimeline(records)
	result.Stats = buildStats(records)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result)
}

func buildTimeline(records []store.CallRecord) []TraceCall {
	timeline := make([]TraceCall, 0, len(records))
	for _, rec := range records {
		call := TraceCall{
			RunID:    rec.RunID,
			Seq:      rec.Seq,
			Op:       rec.Op,
			DB:       rec.DB,
			SyncKind: rec.SyncKind,
			Evicted:  rec.Evicted,
			Outcome:  rec.Outcome,
			Args:     rec.ArgsDigest,
			Result:   rec.ResultDigest,
			State:    rec.StateDigest,
			Schema:   rec.DBFingerprint,
		}
		if rec.HasClient {
			id := rec.ClientID
			call.ClientID = &id
		}
		if rec.Cause != rec.Outcome {
			call.Cause = rec.Cause
		}
		timeline = append(timeline, call)
	}
	return timeline
}

func buildStats(records []store.CallRecord) TraceStats {
	stats := TraceStats{Calls: len(records), Syncs: map[string]int{}}
	for _, rec := range records {
		if rec.Outcome != store.OutcomeOK {
			stats.Failures++
		}
		if rec.SyncKind != "" {
			stats.Syncs[rec.SyncKind]++
		}
		stats.Evictions += rec.Evicted
		if rec.StateDigest != "" {
			stats.StatesIssued++
		}
	}
	return stats
}

func outputRuns(cmd *cobra.Command, format string, runs []store.RunSummary) error {
	if format == "json" {
		rows := make([]TraceRun, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, TraceRun(r))
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: rows})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs journaled.")
		return nil
	}
	fmt.Fprintf(w, "%-40s %6s %9s\n", "RUN", "CALLS", "FAILURES")
	for _, r := range runs {
		fmt.Fprintf(w, "%-40s %6d %9d\n", r.RunID, r.Calls, r.Failures)
	}
	return nil
}

func outputTraceText(w io.Writer, result TraceResult) error {
	switch {
	case result.ClientID != nil:
		fmt.Fprintf(w, "Trace for client: %d\n", *result.ClientID)
	default:
		fmt.Fprintf(w, "Trace for run: %s\n", result.RunID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no calls)")
	}
	for _, c := range result.Timeline {
		formatTraceCall(w, c, result.ClientID != nil)
	}
	fmt.Fprintln(w)

	s := result.Stats
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Calls:         %d\n", s.Calls)
	fmt.Fprintf(w, "  Failures:      %d\n", s.Failures)
	fmt.Fprintf(w, "  Full syncs:    %d\n", s.Syncs["full"])
	fmt.Fprintf(w, "  Diff syncs:    %d\n", s.Syncs["diff"])
	fmt.Fprintf(w, "  Evictions:     %d\n", s.Evictions)
	fmt.Fprintf(w, "  States issued: %d\n", s.StatesIssued)
	return nil
}

func formatTraceCall(w io.Writer, c TraceCall, showRun bool) {
	prefix := fmt.Sprintf("  [%d]", c.Seq)
	if showRun {
		prefix = fmt.Sprintf("  [%s #%d]", c.RunID, c.Seq)
	}

	line := fmt.Sprintf("%s %s", prefix, c.Op)
	if c.ClientID != nil {
		line += fmt.Sprintf(" client=%d", *c.ClientID)
	}
	if c.DB != "" {
		line += " db=" + c.DB
	}
	if c.SyncKind != "" {
		line += " sync=" + c.SyncKind
	}
	if c.Evicted > 0 {
		line += fmt.Sprintf(" evicted=%d", c.Evicted)
	}
	if c.Schema != "" {
		line += " schema=" + c.Schema
	}
	line += " -> " + c.Outcome
	if c.Cause != "" {
		line += " (" + c.Cause + ")"
	}
	fmt.Fprintln(w, line)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
