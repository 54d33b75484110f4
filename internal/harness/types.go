package harness

// TraceEvent records one handled call. It joins the journal record of the
// call with the reply the caller saw.
type TraceEvent struct {
	Seq      int64   `json:"seq"`
	Op       string  `json:"op"`
	Client   *int64  `json:"client,omitempty"`
	DB       string  `json:"db,omitempty"`
	SyncKind string  `json:"sync,omitempty"`
	Evicted  int     `json:"evicted,omitempty"`
	Outcome  string  `json:"outcome"`
	Cause    string  `json:"cause,omitempty"`
	Result   string  `json:"result,omitempty"`
	State    string  `json:"state,omitempty"`
	Cached   []int64 `json:"cached"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: every step met its expectation
	// and every assertion held.
	Pass bool `json:"pass"`

	// RunID is the worker run id the calls were journaled under.
	RunID string `json:"run_id"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// final is the worker state the assertions ran against.
	final *AssertionContext
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
