package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/qrecall/internal/history"
	"github.com/roach88/qrecall/internal/inspect"
	"github.com/roach88/qrecall/internal/pipeline"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Op       string // optional - filter to one operation
	HTML     string // optional - write an HTML page here ("-" = stdout)
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string                `json:"run_id"`
	Timeline []history.EventRecord `json:"timeline"`
	Timings  inspect.Timings       `json:"timings"`
	Stats    TraceStats            `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByOp        map[string]int `json:"by_op"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the trace of a persisted run",
		Long: `Show the trace events of one persisted run.

The text output is a timeline with the offset of each event from the first
one. --html writes a standalone page with an operation filter instead.

Examples:
  qrecall trace --db runs.db --run 0192f3c4-...
  qrecall trace --db runs.db --run 0192f3c4-... --op Grep
  qrecall trace --db history.jsonl --run 0192f3c4-... --html trace.html`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history database or .jsonl file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one operation")
	cmd.Flags().StringVar(&opts.HTML, "html", "", `write an HTML page to this file ("-" for stdout)`)

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := context.Background()

	src, err := openSource(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer src.Close()

	events, err := src.ReadTrace(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	events = filterOp(events, opts.Op)

	if len(events) == 0 {
		if formatter.JSON() {
			return formatter.SuccessRun(opts.RunID, TraceResult{
				RunID:    opts.RunID,
				Timeline: []history.EventRecord{},
				Stats:    TraceStats{ByOp: map[string]int{}},
			})
		}
		fmt.Fprintf(formatter.Writer, "No events found for run: %s\n", opts.RunID)
		return nil
	}

	if opts.HTML != "" {
		return writeTraceHTML(formatter, opts, events)
	}
	if formatter.JSON() {
		return formatter.SuccessRun(opts.RunID, newTraceResult(opts.RunID, events))
	}

	stats := traceStats(events)
	fmt.Fprintf(formatter.Writer, "Trace for run: %s\n\n", opts.RunID)
	if err := inspect.Explain(formatter.Writer, events); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "\n%d event(s) across %d operation(s)\n", stats.TotalEvents, len(stats.ByOp))
	for _, op := range sortedOps(stats) {
		fmt.Fprintf(formatter.Writer, "  %-24s %d\n", op, stats.ByOp[op])
	}
	return nil
}

func filterOp(events []pipeline.TraceEvent, op string) []pipeline.TraceEvent {
	if op == "" {
		return events
	}
	out := make([]pipeline.TraceEvent, 0, len(events))
	for _, ev := range events {
		if ev.Op == op {
			out = append(out, ev)
		}
	}
	return out
}

func writeTraceHTML(f *OutputFormatter, opts *TraceOptions, events []pipeline.TraceEvent) error {
	title := "Run " + opts.RunID
	if opts.HTML == "-" {
		return inspect.RenderHTML(f.Writer, title, events)
	}

	file, err := os.Create(opts.HTML)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create html file", err)
	}
	if err := inspect.RenderHTML(file, title, events); err != nil {
		file.Close()
		return WrapExitError(ExitCommandError, "failed to render trace", err)
	}
	if err := file.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to write html file", err)
	}
	f.VerboseLog("Wrote %d event(s) to %s", len(events), opts.HTML)
	return reportWritten(f.Writer, f.JSON(), opts.HTML)
}

func reportWritten(w io.Writer, asJSON bool, path string) error {
	if asJSON {
		f := &OutputFormatter{Format: "json", Writer: w}
		return f.Success(map[string]string{"html": path})
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}

func newTraceResult(runID string, events []pipeline.TraceEvent) TraceResult {
	timeline := make([]history.EventRecord, 0, len(events))
	for _, ev := range events {
		timeline = append(timeline, history.EventRecord{Op: ev.Op, Payload: ev.Payload, T: ev.Time})
	}
	return TraceResult{
		RunID:    runID,
		Timeline: timeline,
		Timings:  inspect.SummarizeTimings(events),
		Stats:    traceStats(events),
	}
}

func traceStats(events []pipeline.TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(events), ByOp: map[string]int{}}
	for _, ev := range events {
		stats.ByOp[ev.Op]++
	}
	return stats
}

// sortedOps returns the operation names of stats in name order.
func sortedOps(stats TraceStats) []string {
	ops := make([]string, 0, len(stats.ByOp))
	for op := range stats.ByOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
