package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/cpool/internal/engine"
	"github.com/roach88/cpool/internal/ir"
	"github.com/roach88/cpool/internal/schema"
	"github.com/roach88/cpool/internal/testutil"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Diff     string // cmp.Diff output, when the values are lists
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "\nDiff (-want +got):\n%s", e.Diff)
	}

	return buf.String()
}

// AssertionContext is the final state assertions run against.
type AssertionContext struct {
	Worker *engine.Worker
	// Compiler is nil when the worker was never initialized.
	Compiler *testutil.FakeCompiler
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertClientAbsent:
			err = assertClientAbsent(actx.Worker.Cache(), assertion)
		case AssertClientDBs:
			err = assertClientDBs(actx.Worker.Cache(), assertion)
		case AssertDBState:
			err = assertDBState(actx.Worker.Cache(), assertion)
		case AssertGlobalState:
			err = assertGlobalState(actx.Worker.Cache(), assertion)
		case AssertCachedClients:
			err = assertCachedClients(actx.Worker.Cache(), assertion)
		case AssertCompilerCalls:
			err = assertCompilerCalls(actx.Compiler, assertion)
		case AssertContinuation:
			err = assertContinuation(actx.Worker, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func lookupClient(cache schema.Cache, a Assertion) (schema.ClientSchema, error) {
	cs, ok := cache.Get(ir.ClientID(*a.Client))
	if !ok {
		return schema.ClientSchema{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("client %d cached", *a.Client),
			Actual:   "client not in cache",
		}
	}
	return cs, nil
}

func assertClientAbsent(cache schema.Cache, a Assertion) error {
	if _, ok := cache.Get(ir.ClientID(*a.Client)); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("client %d not cached", *a.Client),
			Actual:   "client is cached",
		}
	}
	return nil
}

func assertClientDBs(cache schema.Cache, a Assertion) error {
	cs, err := lookupClient(cache, a)
	if err != nil {
		return err
	}
	want := append([]string(nil), a.DBs...)
	sort.Strings(want)
	got := cs.DBs.Names()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("client %d databases %v", *a.Client, want),
			Actual:   fmt.Sprintf("%v", got),
			Diff:     diff,
		}
	}
	return nil
}

func assertDBState(cache schema.Cache, a Assertion) error {
	cs, err := lookupClient(cache, a)
	if err != nil {
		return err
	}
	db, ok := cs.Database(a.DB)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("database %q for client %d", a.DB, *a.Client),
			Actual:   "database not cached",
		}
	}
	return compareFields(a.Type, []fieldCheck{
		{fieldUserSchema, a.UserSchema, db.UserSchema},
		{fieldReflectionCache, a.ReflectionCache, db.ReflectionCache},
		{fieldDatabaseConfig, a.DatabaseConfig, db.DatabaseConfig},
	})
}

func assertGlobalState(cache schema.Cache, a Assertion) error {
	cs, err := lookupClient(cache, a)
	if err != nil {
		return err
	}
	return compareFields(a.Type, []fieldCheck{
		{fieldGlobalSchema, a.GlobalSchema, cs.GlobalSchema},
		{fieldInstanceConfig, a.InstanceConfig, cs.InstanceConfig},
	})
}

type fieldCheck struct {
	name string
	want *string
	got  ir.Blob
}

// compareFields checks the fields whose expectation is set.
func compareFields(typ string, checks []fieldCheck) error {
	for _, c := range checks {
		if c.want == nil {
			continue
		}
		if c.got.String() != *c.want {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s = %q", c.name, *c.want),
				Actual:   fmt.Sprintf("%s = %q", c.name, c.got.String()),
			}
		}
	}
	return nil
}

func assertCachedClients(cache schema.Cache, a Assertion) error {
	want := sortedInt64s(a.Clients)
	got := make([]int64, 0, cache.Len())
	for _, id := range cache.ClientIDs() {
		got = append(got, int64(id))
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("cached clients %v", want),
			Actual:   fmt.Sprintf("%v", got),
			Diff:     diff,
		}
	}
	return nil
}

func assertCompilerCalls(c *testutil.FakeCompiler, a Assertion) error {
	var got []string
	if c != nil {
		for _, call := range c.Calls {
			got = append(got, call.String())
		}
	}
	if diff := cmp.Diff(a.Calls, got, cmpopts.EquateEmpty()); diff != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d compiler calls", len(a.Calls)),
			Actual:   fmt.Sprintf("%d compiler calls", len(got)),
			Diff:     diff,
		}
	}
	return nil
}

func assertContinuation(w *engine.Worker, a Assertion) error {
	state, held := w.Continuation()

	wantHeld := a.State != ""
	if a.Held != nil {
		wantHeld = *a.Held
	}
	if held != wantHeld {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("slot held=%t", wantHeld),
			Actual:   fmt.Sprintf("held=%t", held),
		}
	}
	if a.State == "" {
		return nil
	}
	got, _ := state.(testutil.FakeState)
	if string(got) != a.State {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("slot state %q", a.State),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}
