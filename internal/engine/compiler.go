package engine

import "github.com/roach88/cpool/internal/ir"

// TxState is a decoded transaction compiler state. Its concrete type belongs
// to the Compiler; the worker only retains it between calls.
type TxState any

// SchemaSnapshot is the schema a schema-bound call compiles against,
// resolved from one client's cache entry and one of its databases.
type SchemaSnapshot struct {
	UserSchema      ir.Blob
	GlobalSchema    ir.Blob
	ReflectionCache ir.Blob
	DatabaseConfig  ir.Blob
	InstanceConfig  ir.Blob
}

// GraphQLSnapshot is the schema a GraphQL compilation needs. It swaps the
// reflection cache for the standard schema retained at initialization.
type GraphQLSnapshot struct {
	StdSchema      ir.Blob
	UserSchema     ir.Blob
	GlobalSchema   ir.Blob
	DatabaseConfig ir.Blob
	InstanceConfig ir.Blob
}

// PassthroughCall is an operation forwarded to the compiler unchanged.
// Client and DB are set only when the call carried a client context.
type PassthroughCall struct {
	Op        string
	Client    ir.ClientID
	HasClient bool
	DB        string
	Args      ir.Blob
}

// Compiler is the external compiler engine the worker drives.
//
// Implementations are not required to be safe for concurrent use; the
// worker makes one call at a time.
type Compiler interface {
	// Initialize loads the standard schema, the reflection schema and the
	// schema class layout. It is called exactly once.
	Initialize(stdSchema, reflectionSchema, classLayout ir.Blob) error

	// Compile compiles against a schema snapshot. The returned state is nil
	// unless the compiled statements opened or continued a transaction.
	Compile(snap SchemaSnapshot, args ir.Blob) (ir.Blob, TxState, error)

	// CompileInTx compiles inside a transaction and returns its new state.
	CompileInTx(state TxState, args ir.Blob) (ir.Blob, TxState, error)

	CompileNotebook(snap SchemaSnapshot, args ir.Blob) (ir.Blob, error)

	CompileGraphQL(snap GraphQLSnapshot, args ir.Blob) (ir.Blob, error)

	// TryCompileRollback checks whether args is a rollback statement. The
	// state is nil when the caller supplied none.
	TryCompileRollback(state TxState, args ir.Blob) (ir.Blob, error)

	// Call runs a passthrough operation.
	Call(call PassthroughCall) (ir.Blob, error)

	EncodeState(state TxState) (ir.Blob, error)
	DecodeState(data ir.Blob) (TxState, error)
}

// CompilerFactory constructs the compiler for the backend described by the
// init bundle's runtime parameters.
type CompilerFactory func(params ir.RuntimeParams) (Compiler, error)
