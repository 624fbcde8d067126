package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/qrecall/internal/recipe"
)

// ValidationError is one problem found in a recipe.
type ValidationError struct {
	Recipe  string `json:"recipe,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Recipes []string          `json:"recipes,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Validate recipes without running them",
		Long: `Check CUE recipes against the recipe schema and compile every one of
them into a pipeline, without running any query.

The argument is a .cue file or a directory holding one CUE package.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], root, cmd)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "directory relative recipe paths resolve against")

	return cmd
}

func runValidate(opts *RootOptions, path, root string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	recipes, err := loadRecipes(path)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationError{toValidationError("", err, ErrCodeRecipe)})
	}

	compiler, err := recipe.NewCompiler(recipe.WithRoot(root))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create compiler", err)
	}

	var names []string
	var problems []ValidationError
	for _, r := range recipes {
		formatter.VerboseLog("Compiling recipe: %s", r.Name)
		if _, err := compiler.Compile(r); err != nil {
			problems = append(problems, toValidationError(r.Name, err, ErrCodeCompile))
			continue
		}
		names = append(names, r.Name)
	}

	if len(problems) > 0 {
		return outputValidationErrors(formatter, problems)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Recipes: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d recipe(s) valid: %v\n", len(names), names)
	return nil
}

func toValidationError(name string, err error, code string) ValidationError {
	var ce *recipe.CompileError
	if errors.As(err, &ce) {
		v := ValidationError{Recipe: name, Field: ce.Field, Message: ce.Message, Code: code}
		if ce.Pos.IsValid() {
			v.Line = ce.Pos.Line()
		}
		return v
	}
	return ValidationError{Recipe: name, Field: "load", Message: err.Error(), Code: ErrCodeGeneric}
}

func outputValidationErrors(f *OutputFormatter, errs []ValidationError) error {
	if f.JSON() {
		_ = f.Success(ValidationResult{Valid: false, Errors: errs})
	} else {
		fmt.Fprintf(f.Writer, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			loc := e.Field
			if e.Recipe != "" {
				loc = e.Recipe + ": " + loc
			}
			if e.Line > 0 {
				fmt.Fprintf(f.Writer, "  [%s] line %d: %s: %s\n", e.Code, e.Line, loc, e.Message)
			} else {
				fmt.Fprintf(f.Writer, "  [%s] %s: %s\n", e.Code, loc, e.Message)
			}
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("%d validation error(s)", len(errs)))
}
