package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/qrecall/internal/history"
	"github.com/roach88/qrecall/internal/inspect"
	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/recipe"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Recipe  string
	Root    string
	History string
	Save    bool
	Trace   bool
	Timeout time.Duration

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs pipeline.RunIDGenerator

	// Clock allows overriding the pipeline clock (for testing).
	Clock pipeline.Clock
}

// RunResult is the JSON payload of a finished run.
type RunResult struct {
	RunID       string                `json:"run_id"`
	Query       string                `json:"query"`
	Lang        string                `json:"lang"`
	Answer      *string               `json:"answer"`
	Candidates  int                   `json:"candidates"`
	Evidence    int                   `json:"evidence"`
	TokensSpent int                   `json:"tokens_spent"`
	Trace       []history.EventRecord `json:"trace,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <recipe> <query...>",
		Short: "Run a recipe pipeline for one query",
		Long: `Compile a CUE recipe into a pipeline and run it for a query.

The recipe argument is a .cue file or a directory holding one CUE package.
When it declares several recipes, pick one with --recipe. Relative
directories inside the recipe resolve against --root.

Examples:
  qrecall run recipes/lease.cue "when is the deposit returned"
  qrecall run recipes/ --recipe lease --root ./docs "pet policy"
  qrecall run recipes/lease.cue --history runs.db --save --trace "rent"`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecipe(opts, args[0], strings.Join(args[1:], " "), cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Recipe, "recipe", "r", "", "recipe name (required when several are declared)")
	cmd.Flags().StringVar(&opts.Root, "root", ".", "directory relative recipe paths resolve against")
	cmd.Flags().StringVar(&opts.History, "history", "", "history sink for persist steps (.jsonl file or SQLite database)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "append the finished run to --history")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the run trace after the answer")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "cancel the run after this long (0 = no limit)")

	return cmd
}

func runRecipe(opts *RunOptions, recipePath, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Save && opts.History == "" {
		return NewExitError(ExitCommandError, "--save needs --history")
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
	formatter.VerboseLog("Using recipe %s from %s", r.Name, recipePath)

	compilerOpts := []recipe.CompilerOption{recipe.WithRoot(opts.Root)}
	if opts.Clock != nil {
		compilerOpts = append(compilerOpts, recipe.WithClock(opts.Clock))
	}
	var sink history.Sink
	if opts.History != "" {
		s, closeSink, err := openSink(opts.History)
		if err != nil {
			_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open history", err)
		}
		defer func() {
			if closeErr := closeSink(); closeErr != nil {
				slog.Error("error closing history", "error", closeErr)
			}
		}()
		sink = s
		compilerOpts = append(compilerOpts, recipe.WithHistorySink(sink))
	}

	compiler, err := recipe.NewCompiler(compilerOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create compiler", err)
	}
	op, err := compiler.Compile(r)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile recipe", err)
	}

	ctx, cancel := runContext(cmd.Context(), opts.Timeout)
	defer cancel()

	state, runErr := pipeline.Run(ctx, op, query, opts.RunIDs)

	if opts.Save {
		now := time.Now()
		if opts.Clock != nil {
			now = opts.Clock.Now()
		}
		rec := history.NewRecord(state, history.IncludeAll, now)
		if err := sink.Append(ctx, rec); err != nil {
			slog.Warn("failed to save run", "run_id", state.RunID, "error", err)
		} else {
			formatter.VerboseLog("Saved run %s to %s", state.RunID, sink.Location())
		}
	}

	if runErr != nil {
		_ = formatter.Error(ErrCodePipeline, runErr.Error(), map[string]any{
			"run_id": state.RunID,
			"kind":   pipeline.KindOf(runErr),
		})
		return WrapExitError(ExitFailure, "pipeline failed", runErr)
	}

	if formatter.JSON() {
		return formatter.SuccessRun(state.RunID, newRunResult(state, opts.Trace))
	}
	return writeRunText(cmd, state, opts.Trace)
}

// runContext derives the run context: cancelled on SIGINT/SIGTERM and, with
// a positive timeout, after timeout.
func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newRunResult(s *pipeline.State, withTrace bool) RunResult {
	res := RunResult{
		RunID:       s.RunID,
		Query:       s.Query.Text,
		Lang:        s.Query.Lang,
		Candidates:  len(s.Candidates),
		Evidence:    len(s.Evidence),
		TokensSpent: s.Budget.TokensSpent,
	}
	if s.HasAnswer {
		answer := s.Answer
		res.Answer = &answer
	}
	if withTrace {
		res.Trace = history.NewRecord(s, history.Include{Trace: true}, time.Time{}).Trace
	}
	return res
}

func writeRunText(cmd *cobra.Command, s *pipeline.State, withTrace bool) error {
	out := cmd.OutOrStdout()
	if s.HasAnswer {
		fmt.Fprintln(out, s.Answer)
	} else {
		fmt.Fprintln(out, "(no answer)")
	}
	if !withTrace {
		return nil
	}
	fmt.Fprintf(out, "\nTrace for run %s:\n", s.RunID)
	return inspect.Explain(out, s.Trace)
}
