package store

// OutcomeOK is the outcome of a successful call. Failed calls record the
// worker error code instead.
const OutcomeOK = "OK"

// CallRecord is one journaled call.
type CallRecord struct {
	RunID string
	Seq   int64
	Op    string

	// ClientID is meaningful only when HasClient is set.
	ClientID  int64
	HasClient bool
	DB        string

	// SyncKind is "none", "full" or "diff" for client calls, "" otherwise.
	SyncKind string
	Evicted  int

	// Outcome is OutcomeOK or an error code. Cause is the code wrapped by a
	// SYNC_FAILURE, or the outcome itself for other failures.
	Outcome string
	Cause   string

	// ArgsDigest and ResultDigest identify the operation payload and the
	// returned result. ResultDigest is "" when the call returned nothing.
	ArgsDigest   string
	ResultDigest string

	// StateDigest identifies the returned transaction state; "" when none.
	StateDigest string

	// DBFingerprint identifies the database schema a schema-bound call
	// compiled against; "" for other calls.
	DBFingerprint string
}

// RunSummary aggregates the calls of one worker run.
type RunSummary struct {
	RunID    string
	Calls    int
	Failures int
	LastSeq  int64
}
