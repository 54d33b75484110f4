package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cpool/internal/config"
	"github.com/roach88/cpool/internal/ir"
)

// InitBundleOptions holds flags for the init-bundle command.
type InitBundleOptions struct {
	*RootOptions
	Params     string // CUE runtime parameters; defaults to worker.runtime_params
	StdSchema  string
	Reflection string
	Layout     string
	Output     string // "" or "-" writes to stdout
}

// NewInitBundleCommand creates the init-bundle command.
func NewInitBundleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitBundleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init-bundle",
		Short: "Build an __init_worker__ payload",
		Long: `Build the single payload of the __init_worker__ call from backend
runtime parameters (a CUE file) and the three serialized schema files.

The runtime parameters are validated before anything is written. The
schema files are embedded byte for byte.

Examples:
  cpool init-bundle --params backend.cue --std std.bin --refl refl.bin --layout layout.bin -o init.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitBundle(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "", "CUE file with runtime parameters (default worker.runtime_params)")
	cmd.Flags().StringVar(&opts.StdSchema, "std", "", "serialized standard schema (required)")
	cmd.Flags().StringVar(&opts.Reflection, "refl", "", "serialized reflection schema")
	cmd.Flags().StringVar(&opts.Layout, "layout", "", "serialized schema class layout")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("std")

	return cmd
}

func runInitBundle(opts *InitBundleOptions, cmd *cobra.Command) error {
	paramsPath := opts.Params
	if paramsPath == "" {
		paramsPath = opts.cfg().Worker.RuntimeParams
	}
	if paramsPath == "" {
		return NewExitError(ExitCommandError, "no runtime parameters: pass --params or set worker.runtime_params")
	}

	params, err := config.LoadRuntimeParams(paramsPath)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid runtime parameters", err)
	}

	std, err := readBlob(opts.StdSchema)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read standard schema", err)
	}
	refl, err := readBlob(opts.Reflection)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read reflection schema", err)
	}
	layout, err := readBlob(opts.Layout)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read class layout", err)
	}
	if len(std) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("standard schema is empty: %s", opts.StdSchema))
	}

	bundle, err := ir.EncodeInitBundle(ir.InitBundle{
		RuntimeParams:    params,
		StdSchema:        std,
		ReflectionSchema: refl,
		ClassLayout:      layout,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode bundle", err)
	}

	if opts.Output == "" || opts.Output == "-" {
		_, err := cmd.OutOrStdout().Write(append(bundle, '\n'))
		return err
	}
	if err := os.WriteFile(opts.Output, bundle, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write bundle", err)
	}
	opts.log().Info("init bundle written",
		"path", opts.Output,
		"tenant_id", params.TenantID,
		"bytes", len(bundle),
	)
	return nil
}

// readBlob reads a payload file. An empty path yields a nil blob.
func readBlob(path string) (ir.Blob, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ir.Blob(data), nil
}
