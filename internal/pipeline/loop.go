package pipeline

import (
	"context"
	"time"
)

// UntilFunc decides whether a Loop should stop. prev holds the candidate and
// evidence counts captured before the iteration that just ran.
type UntilFunc func(s *State, prev Counts) bool

// Stagnant is an UntilFunc that stops once an iteration added nothing.
func Stagnant(s *State, prev Counts) bool {
	return CountsOf(s) == prev
}

// Loop repeats a body operation until a condition holds or the iteration cap
// is reached.
type Loop struct {
	name     string
	body     Operation
	until    UntilFunc
	maxIters int
	clock    Clock
}

// NewLoop creates a Loop. The iteration cap defaults to DefaultMaxIters.
func NewLoop(body Operation, until UntilFunc, opts ...Option) (*Loop, error) {
	cfg := newSettings("Loop", opts)
	if body == nil {
		return nil, NewConfigError(cfg.name, "loop body is nil")
	}
	if until == nil {
		return nil, NewConfigError(cfg.name, "loop condition is nil")
	}
	if cfg.maxIters < 1 {
		return nil, NewConfigError(cfg.name, "max iterations must be >= 1, got %d", cfg.maxIters)
	}
	return &Loop{
		name:     cfg.name,
		body:     body,
		until:    until,
		maxIters: cfg.maxIters,
		clock:    cfg.clock,
	}, nil
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Apply runs the body at most maxIters times.
func (l *Loop) Apply(ctx context.Context, s *State) (*State, error) {
	start := l.clock.Now()
	cur := s
	iters := 0
	stopped := false

	for i := 0; i < l.maxIters; i++ {
		if err := ctx.Err(); err != nil {
			l.logDone(cur, iters, start, stopped)
			return cur, &OpError{Kind: KindCanceled, Op: l.name, Err: err}
		}

		prev := CountsOf(cur)
		out, _, err := runChild(ctx, l.clock, l.body, cur)
		if out != nil {
			cur = out
		}
		iters++

		cur.Log("loop_iter", map[string]any{
			"name":       l.name,
			"iter":       i,
			"candidates": len(cur.Candidates),
			"evidence":   len(cur.Evidence),
		})

		if err != nil {
			l.logDone(cur, iters, start, stopped)
			return cur, err
		}
		if l.until(cur, prev) {
			stopped = true
			break
		}
	}

	l.logDone(cur, iters, start, stopped)
	return cur, nil
}

func (l *Loop) logDone(s *State, iters int, start time.Time, stopped bool) {
	s.Log("loop", map[string]any{
		"name":    l.name,
		"iters":   iters,
		"seconds": since(l.clock, start),
		"stopped": stopped,
	})
}
