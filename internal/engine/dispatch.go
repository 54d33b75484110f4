package engine

import "sort"

// Operation names understood by the worker.
const (
	OpNameInit               = "__init_worker__"
	OpNameCompile            = "compile"
	OpNameCompileNotebook    = "compile_notebook"
	OpNameCompileGraphQL     = "compile_graphql"
	OpNameCompileInTx        = "compile_in_tx"
	OpNameTryCompileRollback = "try_compile_rollback"
)

// OpKind is the closed set of operations the worker models explicitly.
// Every other accepted name is OpPassthrough.
type OpKind int

const (
	OpInit OpKind = iota + 1
	OpCompile
	OpCompileNotebook
	OpCompileGraphQL
	OpCompileInTx
	OpTryCompileRollback
	OpPassthrough
)

// Binding is the state an operation is bound to before the compiler runs.
type Binding int

const (
	// BindingInit configures the worker.
	BindingInit Binding = iota + 1
	// BindingSchema resolves a (client, database) schema snapshot.
	BindingSchema
	// BindingState resolves a transaction state; the schema cache is not used.
	BindingState
	// BindingPassthrough forwards the call unchanged.
	BindingPassthrough
)

var modeledOps = map[string]OpKind{
	OpNameInit:               OpInit,
	OpNameCompile:            OpCompile,
	OpNameCompileNotebook:    OpCompileNotebook,
	OpNameCompileGraphQL:     OpCompileGraphQL,
	OpNameCompileInTx:        OpCompileInTx,
	OpNameTryCompileRollback: OpTryCompileRollback,
}

// Binding returns how k is bound.
func (k OpKind) Binding() Binding {
	switch k {
	case OpInit:
		return BindingInit
	case OpCompile, OpCompileNotebook, OpCompileGraphQL:
		return BindingSchema
	case OpCompileInTx, OpTryCompileRollback:
		return BindingState
	default:
		return BindingPassthrough
	}
}

// DefaultPassthrough is the allowlist of compiler operations forwarded
// without modeling. Names outside it fail with UNKNOWN_OPERATION.
var DefaultPassthrough = []string{
	"analyze_explain_output",
	"compile_structured_config",
	"describe_database_dump",
	"describe_database_restore",
	"interpret_backend_error",
	"parse_user_schema_db_config",
	"validate_schema_equivalence",
}

// Allowlist is a fixed set of passthrough operation names.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist builds an allowlist. Modeled operation names are ignored:
// they can never be forwarded.
func NewAllowlist(names ...string) Allowlist {
	a := Allowlist{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if _, modeled := modeledOps[n]; modeled || n == "" {
			continue
		}
		a.names[n] = struct{}{}
	}
	return a
}

// Contains reports whether name may be forwarded.
func (a Allowlist) Contains(name string) bool {
	_, ok := a.names[name]
	return ok
}

// Names returns the allowed names in ascending order.
func (a Allowlist) Names() []string {
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolve maps an operation name to its kind.
func (a Allowlist) Resolve(name string) (OpKind, error) {
	if k, ok := modeledOps[name]; ok {
		return k, nil
	}
	if a.Contains(name) {
		return OpPassthrough, nil
	}
	return 0, newUnknownOperationError(name)
}
