package testutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/cpool/internal/engine"
	"github.com/roach88/cpool/internal/ir"
)

// FakeState is the transaction state produced by FakeCompiler.
type FakeState string

// Args prefixes that steer FakeCompiler.
const (
	// ArgsFail makes any operation fail.
	ArgsFail = "fail"
	// ArgsBegin makes Compile open a transaction and return a state.
	ArgsBegin = "begin"
	// ArgsUnencodable makes the produced state fail to encode.
	ArgsUnencodable = "unencodable"
)

// ErrFakeCompile is returned for args starting with ArgsFail.
var ErrFakeCompile = errors.New("fake compiler: requested failure")

const statePrefix = "state:"

// CompilerCall records one call into FakeCompiler.
type CompilerCall struct {
	Op              string
	StdSchema       string
	UserSchema      string
	GlobalSchema    string
	ReflectionCache string
	DatabaseConfig  string
	InstanceConfig  string
	State           string
	Client          string
	Args            string
}

// String renders the call with only its populated fields, in a fixed order.
func (c CompilerCall) String() string {
	parts := []string{c.Op}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("std", c.StdSchema)
	add("user", c.UserSchema)
	add("global", c.GlobalSchema)
	add("refl", c.ReflectionCache)
	add("dbcfg", c.DatabaseConfig)
	add("inst", c.InstanceConfig)
	add("state", c.State)
	add("client", c.Client)
	add("args", c.Args)
	return strings.Join(parts, " ")
}

// FakeCompiler is a deterministic engine.Compiler.
//
// Results echo the inputs, so a test can tell which schema snapshot or
// state a call was bound to by looking at the result alone. Behavior is
// steered by the args prefix (ArgsFail, ArgsBegin, ArgsUnencodable).
type FakeCompiler struct {
	Params ir.RuntimeParams

	StdSchema        ir.Blob
	ReflectionSchema ir.Blob
	ClassLayout      ir.Blob
	InitCount        int

	Calls []CompilerCall
}

var _ engine.Compiler = (*FakeCompiler)(nil)

// FakeFactory builds FakeCompilers and remembers the last one.
type FakeFactory struct {
	// Err, when set, is returned instead of a compiler.
	Err error

	Created *FakeCompiler
}

// New implements engine.CompilerFactory.
func (f *FakeFactory) New(params ir.RuntimeParams) (engine.Compiler, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.Created = &FakeCompiler{Params: params}
	return f.Created, nil
}

// Ops returns the recorded operation names in call order.
func (c *FakeCompiler) Ops() []string {
	ops := make([]string, len(c.Calls))
	for i, call := range c.Calls {
		ops[i] = call.Op
	}
	return ops
}

// Initialize records the init payloads. A standard schema of "fail" fails.
func (c *FakeCompiler) Initialize(stdSchema, reflectionSchema, classLayout ir.Blob) error {
	if string(stdSchema) == ArgsFail {
		return ErrFakeCompile
	}
	c.StdSchema = stdSchema
	c.ReflectionSchema = reflectionSchema
	c.ClassLayout = classLayout
	c.InitCount++
	return nil
}

func (c *FakeCompiler) Compile(snap engine.SchemaSnapshot, args ir.Blob) (ir.Blob, engine.TxState, error) {
	c.Calls = append(c.Calls, CompilerCall{
		Op:              engine.OpNameCompile,
		UserSchema:      string(snap.UserSchema),
		GlobalSchema:    string(snap.GlobalSchema),
		ReflectionCache: string(snap.ReflectionCache),
		DatabaseConfig:  string(snap.DatabaseConfig),
		InstanceConfig:  string(snap.InstanceConfig),
		Args:            string(args),
	})
	if failing(args) {
		return nil, nil, ErrFakeCompile
	}
	result := ir.Blob(fmt.Sprintf("units[%s@%s]", args, snap.UserSchema))
	if hasPrefix(args, ArgsBegin) || hasPrefix(args, ArgsUnencodable) {
		return result, FakeState("tx:" + string(args)), nil
	}
	return result, nil, nil
}

func (c *FakeCompiler) CompileInTx(state engine.TxState, args ir.Blob) (ir.Blob, engine.TxState, error) {
	st, _ := state.(FakeState)
	c.Calls = append(c.Calls, CompilerCall{
		Op:    engine.OpNameCompileInTx,
		State: string(st),
		Args:  string(args),
	})
	if failing(args) {
		return nil, nil, ErrFakeCompile
	}
	return ir.Blob(fmt.Sprintf("units[%s in %s]", args, st)), FakeState(string(st) + ">" + string(args)), nil
}

func (c *FakeCompiler) CompileNotebook(snap engine.SchemaSnapshot, args ir.Blob) (ir.Blob, error) {
	c.Calls = append(c.Calls, CompilerCall{
		Op:              engine.OpNameCompileNotebook,
		UserSchema:      string(snap.UserSchema),
		GlobalSchema:    string(snap.GlobalSchema),
		ReflectionCache: string(snap.ReflectionCache),
		DatabaseConfig:  string(snap.DatabaseConfig),
		InstanceConfig:  string(snap.InstanceConfig),
		Args:            string(args),
	})
	if failing(args) {
		return nil, ErrFakeCompile
	}
	return ir.Blob(fmt.Sprintf("notebook[%s@%s]", args, snap.UserSchema)), nil
}

func (c *FakeCompiler) CompileGraphQL(snap engine.GraphQLSnapshot, args ir.Blob) (ir.Blob, error) {
	c.Calls = append(c.Calls, CompilerCall{
		Op:             engine.OpNameCompileGraphQL,
		StdSchema:      string(snap.StdSchema),
		UserSchema:     string(snap.UserSchema),
		GlobalSchema:   string(snap.GlobalSchema),
		DatabaseConfig: string(snap.DatabaseConfig),
		InstanceConfig: string(snap.InstanceConfig),
		Args:           string(args),
	})
	if failing(args) {
		return nil, ErrFakeCompile
	}
	return ir.Blob(fmt.Sprintf("graphql[%s@%s+%s]", args, snap.StdSchema, snap.UserSchema)), nil
}

func (c *FakeCompiler) TryCompileRollback(state engine.TxState, args ir.Blob) (ir.Blob, error) {
	st, _ := state.(FakeState)
	c.Calls = append(c.Calls, CompilerCall{
		Op:    engine.OpNameTryCompileRollback,
		State: string(st),
		Args:  string(args),
	})
	if failing(args) {
		return nil, ErrFakeCompile
	}
	return ir.Blob(fmt.Sprintf("rollback[%s]", args)), nil
}

func (c *FakeCompiler) Call(call engine.PassthroughCall) (ir.Blob, error) {
	rec := CompilerCall{Op: call.Op, Args: string(call.Args)}
	if call.HasClient {
		rec.Client = fmt.Sprintf("%d/%s", call.Client, call.DB)
	}
	c.Calls = append(c.Calls, rec)
	if failing(call.Args) {
		return nil, ErrFakeCompile
	}
	return ir.Blob(fmt.Sprintf("%s(%s)", call.Op, call.Args)), nil
}

// EncodeState serializes a FakeState. States produced from ArgsUnencodable
// fail to encode.
func (c *FakeCompiler) EncodeState(state engine.TxState) (ir.Blob, error) {
	st, ok := state.(FakeState)
	if !ok {
		return nil, fmt.Errorf("fake compiler: unexpected state type %T", state)
	}
	if strings.Contains(string(st), ArgsUnencodable) {
		return nil, fmt.Errorf("fake compiler: cannot encode %q", st)
	}
	return ir.Blob(statePrefix + string(st)), nil
}

// DecodeState parses a blob produced by EncodeState.
func (c *FakeCompiler) DecodeState(data ir.Blob) (engine.TxState, error) {
	s := string(data)
	if !strings.HasPrefix(s, statePrefix) {
		return nil, fmt.Errorf("fake compiler: malformed state %q", s)
	}
	return FakeState(strings.TrimPrefix(s, statePrefix)), nil
}

// EncodedState returns what EncodeState produces for st, for building
// expected replies and explicit state blobs in tests.
func EncodedState(st string) ir.Blob {
	return ir.Blob(statePrefix + st)
}

func failing(args ir.Blob) bool {
	return hasPrefix(args, ArgsFail)
}

func hasPrefix(args ir.Blob, prefix string) bool {
	return strings.HasPrefix(string(args), prefix)
}
