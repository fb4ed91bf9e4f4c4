package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/catalog"
	"github.com/roach88/porta/internal/generator"
	"github.com/roach88/porta/internal/rules"
)

// Validation error codes.
const (
	ErrCodeRead    = "E_READ"
	ErrCodeCatalog = "E_CATALOG"
	ErrCodeTuning  = "E_TUNING"
)

// ValidationError is one problem found in an input file.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Definitions int               `json:"definitions,omitempty"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Catalog string
	Tuning  string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a task catalog or generator tuning file",
		Long: `Check a CUE task catalog and/or a YAML generator tuning before pointing
PORTA_CATALOG or PORTA_TUNING at them. Every catalog definition must name a
known rule. With no flags the configured files are checked.

Example:
  porta validate --catalog ./catalog.cue
  porta validate --tuning ./tuning.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE task catalog")
	cmd.Flags().StringVar(&opts.Tuning, "tuning", "", "YAML generator tuning")
	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	catalogPath := firstNonEmpty(opts.Catalog, opts.Config.CatalogPath)
	tuningPath := firstNonEmpty(opts.Tuning, opts.Config.TuningPath)
	if catalogPath == "" && tuningPath == "" {
		return NewExitError(ExitCommandError, "nothing to validate: pass --catalog or --tuning")
	}

	result := ValidationResult{Valid: true}
	if catalogPath != "" {
		f.VerboseLog("Validating catalog %s", catalogPath)
		n, verr := validateCatalog(catalogPath)
		if verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
		result.Definitions = n
	}
	if tuningPath != "" {
		f.VerboseLog("Validating tuning %s", tuningPath)
		if verr := validateTuning(tuningPath); verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
	}
	result.Valid = len(result.Errors) == 0

	if f.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			if e.Line > 0 {
				fmt.Fprintf(f.Writer, "%s:%d: [%s] %s\n", e.File, e.Line, e.Code, e.Message)
			} else {
				fmt.Fprintf(f.Writer, "%s: [%s] %s\n", e.File, e.Code, e.Message)
			}
		}
		if result.Valid {
			fmt.Fprintln(f.Writer, "✓ Validation passed")
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

func validateCatalog(path string) (int, *ValidationError) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, &ValidationError{File: path, Code: ErrCodeRead, Message: err.Error()}
	}
	cat, err := catalog.Load(src, path, rules.Default())
	if err != nil {
		verr := &ValidationError{File: path, Code: ErrCodeCatalog, Message: err.Error()}
		var le *catalog.LoadError
		if errors.As(err, &le) {
			verr.Field = le.Field
			verr.Message = le.Message
			if le.Pos.IsValid() {
				verr.Line = le.Pos.Line()
			}
		}
		return 0, verr
	}
	return len(cat.AllDefinitions()), nil
}

func validateTuning(path string) *ValidationError {
	if _, err := generator.LoadTuning(path); err != nil {
		return &ValidationError{File: path, Code: ErrCodeTuning, Message: err.Error()}
	}
	return nil
}
