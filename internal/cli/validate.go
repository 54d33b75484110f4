package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cpool/internal/config"
	"github.com/roach88/cpool/internal/harness"
)

// ValidationError describes one invalid file.
type ValidationError struct {
	File    string `json:"file"`
	Kind    string `json:"kind"` // "scenario" | "runtime_params"
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <files...>",
		Short: "Validate scenario and runtime-parameter files",
		Long: `Validate files without running anything.

Files ending in .yaml or .yml are parsed as scenarios (strict field
checking plus structural rules). Files ending in .cue are checked against
the runtime-parameter schema used by __init_worker__.

Examples:
  cpool validate testdata/scenarios/*.yaml
  cpool validate backend.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format: opts.Format,
		Writer: cmd.OutOrStdout(),
	}

	result := ValidationResult{Files: len(files)}
	for _, file := range files {
		verr, err := validateFile(file)
		if err != nil {
			if ferr := formatter.Error(ErrCodeInvalid, err.Error(), nil); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitCommandError, "validation failed", err)
		}
		if verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
		opts.log().Debug("validated file", "file", file, "valid", verr == nil)
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		if err := outputValidationErrors(formatter, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d file(s) invalid", len(result.Errors), result.Files))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("✓ %d file(s) valid", result.Files))
}

// validateFile returns a ValidationError for an invalid file, or an error
// when the file kind is not recognized.
func validateFile(file string) (*ValidationError, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if _, err := harness.LoadScenario(file); err != nil {
			return &ValidationError{File: file, Kind: "scenario", Message: err.Error()}, nil
		}
	case ".cue":
		if _, err := config.LoadRuntimeParams(file); err != nil {
			verr := &ValidationError{File: file, Kind: "runtime_params", Message: err.Error()}
			var perr *config.ParamsError
			if errors.As(err, &perr) && perr.Pos.IsValid() && perr.Pos.Filename() == file {
				verr.Line = perr.Pos.Line()
			}
			return verr, nil
		}
	default:
		return nil, fmt.Errorf("%s: unsupported file type (want .yaml, .yml or .cue)", file)
	}
	return nil, nil
}

func outputValidationErrors(f *OutputFormatter, result ValidationResult) error {
	if f.Format == "json" {
		return f.Error(ErrCodeInvalid, "validation failed", result.Errors)
	}

	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(f.Writer, "✗ %s:%d: %s\n", e.File, e.Line, e.Message)
		} else {
			fmt.Fprintf(f.Writer, "✗ %s: %s\n", e.File, e.Message)
		}
	}
	return nil
}
