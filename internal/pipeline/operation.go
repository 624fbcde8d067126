package pipeline

import (
	"context"
	"log/slog"
)

// Operation is one step of a pipeline.
//
// Apply receives the current State and returns the resulting State. Most
// operations mutate the input in place and return it; composition operators
// may return a different State (for example a merged branch result). An
// operation that fails returns the State it reached so far along with the
// error so the trace is never lost.
type Operation interface {
	Name() string
	Apply(ctx context.Context, s *State) (*State, error)
}

// Func adapts a plain function into an Operation.
type Func struct {
	name string
	fn   func(ctx context.Context, s *State) (*State, error)
}

// NewFunc creates an Operation that runs fn.
func NewFunc(name string, fn func(ctx context.Context, s *State) (*State, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the operation name.
func (f *Func) Name() string { return f.name }

// Apply runs the wrapped function. A nil returned State is replaced by the
// input so callers always receive a usable State.
func (f *Func) Apply(ctx context.Context, s *State) (*State, error) {
	out, err := f.fn(ctx, s)
	if out == nil {
		out = s
	}
	return out, err
}

// Identity is an operation that returns its input unchanged.
type Identity struct{}

// Name returns "Identity".
func (Identity) Name() string { return "Identity" }

// Apply returns s.
func (Identity) Apply(_ context.Context, s *State) (*State, error) { return s, nil }

// Run creates a fresh State for query and applies op to it.
//
// The State receives a run ID from gen; pass nil to use UUIDv7 IDs.
func Run(ctx context.Context, op Operation, query string, gen RunIDGenerator) (*State, error) {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	s := NewState(query)
	s.RunID = gen.Generate()

	slog.Info("pipeline run starting",
		"run_id", s.RunID,
		"op", op.Name())

	out, err := op.Apply(ctx, s)
	if out == nil {
		out = s
	}
	if err != nil {
		slog.Error("pipeline run failed",
			"run_id", s.RunID,
			"op", op.Name(),
			"kind", KindOf(err),
			"error", err)
		return out, err
	}

	slog.Info("pipeline run finished",
		"run_id", s.RunID,
		"candidates", len(out.Candidates),
		"evidence", len(out.Evidence),
		"trace_events", len(out.Trace))
	return out, nil
}
