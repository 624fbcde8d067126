package cli

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Ops      bool
}

// HistoryRun is the JSON form of one listed run.
type HistoryRun struct {
	ID          string    `json:"id"`
	TS          time.Time `json:"ts"`
	Query       string    `json:"query"`
	Lang        string    `json:"lang"`
	Answered    bool      `json:"answered"`
	TokensSpent int       `json:"tokens_spent"`
	Candidates  int       `json:"candidates"`
	Evidence    int       `json:"evidence"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted runs",
		Long: `List the runs recorded in a history file, newest first.

The history is either a SQLite database or a .jsonl file written by persist
steps or "qrecall run --save".

Examples:
  qrecall history --db runs.db
  qrecall history --db .qrecall/history.jsonl --limit 5 --format json
  qrecall history --db runs.db --ops`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history database or .jsonl file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list (0 = all)")
	cmd.Flags().BoolVar(&opts.Ops, "ops", false, "count trace events per operation instead (SQLite only)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := context.Background()

	src, err := openSource(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer src.Close()

	if opts.Ops {
		return outputOpCounts(ctx, formatter, src)
	}

	runs, err := src.ListRuns(ctx, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	rows := make([]HistoryRun, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, HistoryRun(r))
	}

	if formatter.JSON() {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTIME\tLANG\tTOKENS\tCANDS\tANSWER\tQUERY")
	for _, r := range rows {
		answered := "-"
		if r.Answered {
			answered = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.TS.Format(time.RFC3339), r.Lang, r.TokensSpent, r.Candidates, answered, r.Query)
	}
	return tw.Flush()
}

type opCounter interface {
	CountByOp(ctx context.Context) (map[string]int, error)
}

func outputOpCounts(ctx context.Context, f *OutputFormatter, src runSource) error {
	counter, ok := src.(opCounter)
	if !ok {
		_ = f.Error(ErrCodeHistory, "--ops needs a SQLite history", nil)
		return NewExitError(ExitCommandError, "--ops needs a SQLite history")
	}
	counts, err := counter.CountByOp(ctx)
	if err != nil {
		_ = f.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to count operations", err)
	}
	if f.JSON() {
		return f.Success(counts)
	}

	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tEVENTS")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%d\n", op, counts[op])
	}
	return tw.Flush()
}
