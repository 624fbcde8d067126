package eval

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Suite is a named list of cases.
type Suite struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Recipe optionally names the pipeline recipe the suite was written for.
	// Relative paths are resolved against the suite file by LoadSuite.
	Recipe string `yaml:"recipe,omitempty"`

	Cases []Case `yaml:"cases"`
}

// RunOption configures Suite.Run.
type RunOption func(*runConfig)

type runConfig struct {
	stopOnFail bool
	ids        pipeline.RunIDGenerator
}

// StopOnFail stops at the first failing case.
func StopOnFail() RunOption {
	return func(c *runConfig) { c.stopOnFail = true }
}

// WithRunIDs sets the run ID generator handed to pipeline.Run.
func WithRunIDs(gen pipeline.RunIDGenerator) RunOption {
	return func(c *runConfig) { c.ids = gen }
}

// Run executes every case through op.
//
// A pipeline error fails its case (recorded in CaseResult.Err) without
// stopping the suite unless StopOnFail is set. Context cancellation stops
// the suite and is returned.
func (s *Suite) Run(ctx context.Context, op pipeline.Operation, opts ...RunOption) ([]CaseResult, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	results := make([]CaseResult, 0, len(s.Cases))
	for _, c := range s.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		state, err := pipeline.Run(ctx, op, c.Query, cfg.ids)
		var res CaseResult
		if err != nil {
			res = CaseResult{Case: c, Err: err, State: state}
		} else {
			res = c.Evaluate(state)
		}
		slog.Debug("eval case finished",
			"suite", s.Name,
			"case", c.Label(),
			"passed", res.Passed)
		results = append(results, res)

		if cfg.stopOnFail && !res.Passed {
			break
		}
	}
	return results, nil
}

// Summary aggregates case results.
type Summary struct {
	Suite  string `json:"suite"`
	Passed int    `json:"passed"`
	Total  int    `json:"total"`

	// Scored counts the cases that declared relevant IDs; Mean averages
	// their scores.
	Scored int   `json:"scored"`
	Mean   Score `json:"mean"`
}

// Summarize computes the Summary of results.
func (s *Suite) Summarize(results []CaseResult) Summary {
	sum := Summary{Suite: s.Name, Total: len(results)}
	var scores []Score
	for _, r := range results {
		if r.Passed {
			sum.Passed++
		}
		if r.Score != nil {
			scores = append(scores, *r.Score)
		}
	}
	sum.Scored = len(scores)
	sum.Mean = Mean(scores)
	return sum
}

// Report writes a human-readable summary of results to w and returns it.
func (s *Suite) Report(w io.Writer, results []CaseResult) Summary {
	sum := s.Summarize(results)
	fmt.Fprintf(w, "%s: %d/%d passed\n", s.Name, sum.Passed, sum.Total)
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "- %s: %s\n", status, r.Case.Label())
		if r.Err != nil {
			fmt.Fprintf(w, "    error: %v\n", r.Err)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(w, "    missing: %s\n", f)
		}
		if r.Score != nil {
			fmt.Fprintf(w, "    p=%.3f r=%.3f f1=%.3f mrr=%.3f\n",
				r.Score.Precision, r.Score.Recall, r.Score.F1, r.Score.MRR)
		}
	}
	if sum.Scored > 0 {
		fmt.Fprintf(w, "mean over %d scored: p=%.3f r=%.3f f1=%.3f mrr=%.3f\n",
			sum.Scored, sum.Mean.Precision, sum.Mean.Recall, sum.Mean.F1, sum.Mean.MRR)
	}
	return sum
}
