package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/qrecall/internal/eval"
	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/recipe"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	RecipeFile string
	Recipe     string
	Root       string
	StopOnFail bool

	// RunIDs allows overriding the run ID generator (for testing).
	RunIDs pipeline.RunIDGenerator
}

// EvalCase is the JSON form of one case result.
type EvalCase struct {
	Name     string      `json:"name"`
	Passed   bool        `json:"passed"`
	RunID    string      `json:"run_id,omitempty"`
	Failures []string    `json:"failures,omitempty"`
	Error    string      `json:"error,omitempty"`
	Score    *eval.Score `json:"score,omitempty"`
}

// EvalResult is the JSON payload of the eval command.
type EvalResult struct {
	Summary eval.Summary `json:"summary"`
	Cases   []EvalCase   `json:"cases"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	return newEvalCommand(&EvalOptions{RootOptions: rootOpts})
}

func newEvalCommand(opts *EvalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <suite.yaml>",
		Short: "Run an evaluation suite against a recipe",
		Long: `Run every case of a YAML evaluation suite through a recipe pipeline and
report which cases passed.

The recipe comes from the suite's "recipe" field unless --recipe-file is
given. Cases that list relevant files are scored with precision, recall, F1
and MRR. Relative recipe paths resolve against --root, which defaults to the
suite's directory.

Exit codes:
  0 - All cases passed
  1 - One or more cases failed
  2 - Command error (suite or recipe invalid)

Examples:
  qrecall eval suites/lease.yaml
  qrecall eval suites/lease.yaml --recipe-file recipes/ --recipe lease --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RecipeFile, "recipe-file", "", "recipe file or directory (overrides the suite's recipe)")
	cmd.Flags().StringVarP(&opts.Recipe, "recipe", "r", "", "recipe name (required when several are declared)")
	cmd.Flags().StringVar(&opts.Root, "root", "", "directory relative recipe paths resolve against (default: suite directory)")
	cmd.Flags().BoolVar(&opts.StopOnFail, "stop-on-fail", false, "stop at the first failing case")

	return cmd
}

func runEval(opts *EvalOptions, suitePath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	suite, err := eval.LoadSuite(suitePath)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load suite", err)
	}

	recipePath := opts.RecipeFile
	if recipePath == "" {
		recipePath = suite.Recipe
	}
	if recipePath == "" {
		_ = formatter.Error(ErrCodeRecipe, "suite names no recipe and --recipe-file is not set", nil)
		return NewExitError(ExitCommandError, "no recipe")
	}

	recipes, err := loadRecipes(recipePath)
	if err != nil {
		_ = formatter.Error(ErrCodeRecipe, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load recipe", err)
	}
	r, err := selectRecipe(recipes, opts.Recipe)
	if err != nil {
		_ = formatter.Error(ErrCodeRecipe, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to select recipe", err)
	}

	root := opts.Root
	if root == "" {
		root = filepath.Dir(suitePath)
	}
	compiler, err := recipe.NewCompiler(recipe.WithRoot(root))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create compiler", err)
	}
	op, err := compiler.Compile(r)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile recipe", err)
	}

	formatter.VerboseLog("Running %d case(s) of %s with recipe %s", len(suite.Cases), suite.Name, r.Name)

	var runOpts []eval.RunOption
	if opts.StopOnFail {
		runOpts = append(runOpts, eval.StopOnFail())
	}
	if opts.RunIDs != nil {
		runOpts = append(runOpts, eval.WithRunIDs(opts.RunIDs))
	}

	ctx, cancel := runContext(cmd.Context(), 0)
	defer cancel()

	results, err := suite.Run(ctx, op, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "suite interrupted", err)
	}

	var sum eval.Summary
	if formatter.JSON() {
		sum = suite.Summarize(results)
		if err := formatter.Success(newEvalResult(sum, results)); err != nil {
			return err
		}
	} else {
		sum = suite.Report(formatter.Writer, results)
	}

	if sum.Passed < sum.Total {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d case(s) failed", sum.Total-sum.Passed, sum.Total))
	}
	return nil
}

func newEvalResult(sum eval.Summary, results []eval.CaseResult) EvalResult {
	out := EvalResult{Summary: sum, Cases: make([]EvalCase, 0, len(results))}
	for _, r := range results {
		c := EvalCase{
			Name:     r.Case.Label(),
			Passed:   r.Passed,
			Failures: r.Failures,
			Score:    r.Score,
		}
		if r.State != nil {
			c.RunID = r.State.RunID
		}
		if r.Err != nil {
			c.Error = r.Err.Error()
		}
		out.Cases = append(out.Cases, c)
	}
	return out
}
