package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/manifest"
)

// ValidationIssue is one problem found in a manifest.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Units    int                     `json:"units"`
	Errors   []ValidationIssue       `json:"errors,omitempty"`
	Warnings []manifest.CycleWarning `json:"warnings,omitempty"`
	Missing  []string                `json:"missing,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate a manifest without planning",
		Long: `Validate the CUE manifest in a directory without planning a build.

Reports every malformed unit, not only the first. Dependency cycles and
references to undeclared units are reported as warnings: a plan tolerates
both, resolving undeclared units as nonexistent.

Exit codes:
  0 - Manifest valid (warnings allowed)
  1 - Manifest has errors
  2 - Command error (missing directory, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, errs := manifest.Load(dir, manifest.LoadModeCollectAll)
	if len(errs) > 0 && isCommandLoadError(errs[0]) {
		return formatter.Fail(ExitCommandError, errorCode(errs[0]), errorMessage(errs[0]), nil)
	}

	result := ValidationResult{Valid: len(errs) == 0}
	for _, err := range errs {
		result.Errors = append(result.Errors, toIssue(err))
	}
	if m != nil {
		result.Units = len(m.Units)
		result.Warnings = manifest.AnalyzeCycles(m)
		result.Missing = m.MissingReferences()
		formatter.VerboseLog("Checked %d unit(s) in %s", result.Units, dir)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		writeValidationText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func toIssue(err error) ValidationIssue {
	var loadErr *manifest.LoadError
	if errors.As(err, &loadErr) {
		issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.Line = loadErr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: manifest.ErrCodeGeneric, Message: err.Error()}
}

func writeValidationText(formatter *OutputFormatter, r ValidationResult) {
	w := formatter.Writer
	if r.Valid {
		fmt.Fprintf(w, "✓ Manifest valid (%d units)\n", r.Units)
	} else {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, issue := range r.Errors {
			if issue.Line > 0 {
				fmt.Fprintf(w, "line %d\n", issue.Line)
			}
			fmt.Fprintf(w, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Message)
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(w, "warning: undeclared dependencies: %s\n", strings.Join(r.Missing, ", "))
	}
}
