package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// MergePolicy selects how Branch combines sub-pipeline results.
type MergePolicy string

const (
	// MergeConcat unions candidates (deduplicated) and concatenates evidence.
	MergeConcat MergePolicy = "concat"

	// MergeBest keeps the branch whose candidate scores sum highest.
	MergeBest MergePolicy = "best"
)

// Branch runs several sub-pipelines against independent copies of the State
// and merges their results.
//
// Sub-pipelines run concurrently unless WithSequential is given. Each one
// receives State.Clone(), so no branch can observe another's mutations.
// Merging happens after all branches finish and always walks branches in
// declaration order, so the result does not depend on scheduling.
type Branch struct {
	name       string
	branches   []Operation
	merge      MergePolicy
	clock      Clock
	sequential bool
	limit      int
}

// NewBranch creates a Branch. It returns a ConfigError for an unknown merge
// policy or an empty branch list.
func NewBranch(merge MergePolicy, branches []Operation, opts ...Option) (*Branch, error) {
	cfg := newSettings("Branch", opts)
	if merge == "" {
		merge = MergeConcat
	}
	if merge != MergeConcat && merge != MergeBest {
		return nil, NewConfigError(cfg.name, "unknown merge policy %q", merge)
	}
	if len(branches) == 0 {
		return nil, NewConfigError(cfg.name, "branch requires at least one sub-pipeline")
	}
	for i, b := range branches {
		if b == nil {
			return nil, NewConfigError(cfg.name, "branch %d is nil", i)
		}
	}
	return &Branch{
		name:       cfg.name,
		branches:   append([]Operation(nil), branches...),
		merge:      merge,
		clock:      cfg.clock,
		sequential: cfg.sequential,
		limit:      cfg.limit,
	}, nil
}

// Name returns the branch name.
func (b *Branch) Name() string { return b.name }

// Merge returns the merge policy.
func (b *Branch) Merge() MergePolicy { return b.merge }

type branchResult struct {
	state   *State
	seconds float64
	err     error
}

// Apply runs all sub-pipelines and merges their results into one State.
//
// If any branch fails, the first failure in declaration order is returned
// along with the input State; branch trace events are still appended to it.
func (b *Branch) Apply(ctx context.Context, s *State) (*State, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Branch",
		trace.WithAttributes(
			attribute.String("qrecall.op", b.name),
			attribute.String("qrecall.merge", string(b.merge)),
			attribute.Int("qrecall.branches", len(b.branches))))
	defer span.End()

	results := make([]branchResult, len(b.branches))
	runOne := func(ctx context.Context, i int) {
		clone := s.Clone()
		out, secs, err := runChild(ctx, b.clock, b.branches[i], clone)
		if out == nil {
			out = clone
		}
		results[i] = branchResult{state: out, seconds: secs, err: err}
	}

	if b.sequential {
		for i := range b.branches {
			runOne(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		if b.limit > 0 {
			g.SetLimit(b.limit)
		}
		for i := range b.branches {
			g.Go(func() error {
				runOne(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	baseTrace := len(s.Trace)
	var branchEvents []TraceEvent
	for _, r := range results {
		branchEvents = append(branchEvents, tail(r.state.Trace, baseTrace)...)
	}

	for i, r := range results {
		if r.err == nil {
			continue
		}
		s.Trace = append(s.Trace, branchEvents...)
		b.logBranches(s, results)
		s.Log("error", map[string]any{
			"name":  b.branchLabel(i),
			"kind":  string(KindOf(r.err)),
			"error": r.err.Error(),
		})
		span.RecordError(r.err)
		span.SetStatus(codes.Error, b.branchLabel(i))
		return s, fmt.Errorf("branch %s: %w", b.branchLabel(i), r.err)
	}

	var merged *State
	switch b.merge {
	case MergeBest:
		merged = b.mergeBest(s, results, branchEvents)
	default:
		merged = b.mergeConcat(s, results, branchEvents)
	}
	b.logBranches(merged, results)
	return merged, nil
}

// mergeConcat writes the union of all branch results into s.
func (b *Branch) mergeConcat(s *State, results []branchResult, events []TraceEvent) *State {
	var cands []Candidate
	evidence := mergeEvidence(s.Evidence, results)
	for _, r := range results {
		cands = append(cands, r.state.Candidates...)
		s.Query.Meta.AddSearchTerms(r.state.Query.Meta.SearchTerms...)
		s.Query.Meta.AddPathHints(r.state.Query.Meta.PathHints...)
		for k, v := range r.state.Query.Meta.Extra {
			s.Query.Meta.SetExtra(k, v)
		}
	}
	s.Candidates = DedupCandidates(cands)
	s.Evidence = evidence
	s.Trace = append(s.Trace, events...)
	s.Log("branch_merge", map[string]any{
		"name":       b.name,
		"merge":      string(MergeConcat),
		"candidates": len(s.Candidates),
		"evidence":   len(s.Evidence),
	})
	return s
}

// mergeBest picks the branch with the highest candidate score sum.
// Ties go to the earliest declared branch.
func (b *Branch) mergeBest(s *State, results []branchResult, events []TraceEvent) *State {
	win := 0
	best := scoreSum(results[0].state)
	for i := 1; i < len(results); i++ {
		if sum := scoreSum(results[i].state); sum > best {
			best = sum
			win = i
		}
	}
	out := results[win].state
	trace := make([]TraceEvent, 0, len(s.Trace)+len(events))
	trace = append(trace, s.Trace...)
	trace = append(trace, events...)
	out.Trace = trace
	out.Log("branch_merge", map[string]any{
		"name":   b.name,
		"merge":  string(MergeBest),
		"winner": b.branchLabel(win),
		"score":  best,
	})
	return out
}

func (b *Branch) logBranches(s *State, results []branchResult) {
	for i, r := range results {
		s.Log("branch", map[string]any{
			"name":    b.branchLabel(i),
			"seconds": r.seconds,
		})
	}
}

func (b *Branch) branchLabel(i int) string {
	return fmt.Sprintf("%s[%d]:%s", b.name, i, b.branches[i].Name())
}

func scoreSum(s *State) float64 {
	var sum float64
	for _, c := range s.Candidates {
		sum += c.Score
	}
	return sum
}

// tail returns the events appended after the first n. If the slice shrank
// the whole slice is returned.
func tail(events []TraceEvent, n int) []TraceEvent {
	if n > len(events) {
		return events
	}
	return events[n:]
}

type evidenceKey struct {
	text, uri string
}

// mergeEvidence concatenates branch evidence in declaration order without
// repeating the input.
//
// Each branch output is split into inherited items, matched one for one
// against the input by (Text, URI), and new items. An input item survives
// when at least one branch still holds it; new items follow the surviving
// input in branch order. Branches may drop or reorder what they inherited.
func mergeEvidence(input []Evidence, results []branchResult) []Evidence {
	avail := make(map[evidenceKey]int, len(input))
	for _, ev := range input {
		avail[evidenceKey{ev.Text, ev.URI}]++
	}

	survived := make(map[evidenceKey]int, len(avail))
	var added []Evidence
	for _, r := range results {
		left := make(map[evidenceKey]int, len(avail))
		for k, n := range avail {
			left[k] = n
		}
		kept := make(map[evidenceKey]int, len(avail))
		for _, ev := range r.state.Evidence {
			k := evidenceKey{ev.Text, ev.URI}
			if left[k] > 0 {
				left[k]--
				kept[k]++
				continue
			}
			added = append(added, ev)
		}
		for k, n := range kept {
			survived[k] = max(survived[k], n)
		}
	}

	out := make([]Evidence, 0, len(input)+len(added))
	for _, ev := range input {
		k := evidenceKey{ev.Text, ev.URI}
		if survived[k] > 0 {
			survived[k]--
			out = append(out, ev)
		}
	}
	return append(out, added...)
}
