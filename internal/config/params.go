package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cpool/internal/ir"
)

//go:embed params.cue
var paramsSchema string

const paramsDefinition = "#RuntimeParams"

// ParamsError is a runtime-parameter validation failure with the source
// position of the first offending value, when CUE reports one.
type ParamsError struct {
	Message string
	Pos     token.Pos
}

func (e *ParamsError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Pos, e.Message)
	}
	return e.Message
}

// LoadRuntimeParams reads a CUE file of backend runtime parameters and
// validates it. Unset optional fields take the schema defaults.
//
// Example file:
//
//	tenant_id:      "acme"
//	server_version: "16.2"
//	capabilities: ["ext:postgis"]
func LoadRuntimeParams(path string) (ir.RuntimeParams, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return ir.RuntimeParams{}, fmt.Errorf("read runtime params: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return ir.RuntimeParams{}, formatCUEError(err)
	}
	return decodeParams(ctx, v)
}

// ValidateRuntimeParams checks already-parsed parameters, such as those
// embedded in a scenario file.
func ValidateRuntimeParams(raw map[string]any) (ir.RuntimeParams, error) {
	ctx := cuecontext.New()
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return ir.RuntimeParams{}, formatCUEError(err)
	}
	return decodeParams(ctx, v)
}

func decodeParams(ctx *cue.Context, v cue.Value) (ir.RuntimeParams, error) {
	schema := ctx.CompileString(paramsSchema, cue.Filename("params.cue"))
	if err := schema.Err(); err != nil {
		return ir.RuntimeParams{}, fmt.Errorf("compile params schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(paramsDefinition))

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return ir.RuntimeParams{}, formatCUEError(err)
	}

	var params ir.RuntimeParams
	if err := unified.Decode(&params); err != nil {
		return ir.RuntimeParams{}, fmt.Errorf("decode runtime params: %w", err)
	}
	return params, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	pe := &ParamsError{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}
