package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sequence runs child operations in order, threading the State through.
//
// Each child sees every mutation made by the children before it. One "time"
// event is logged per child and one "time_overall" event at the end.
type Sequence struct {
	name  string
	ops   []Operation
	clock Clock
}

// NewSequence creates a Sequence over ops. The ops slice is copied.
func NewSequence(ops []Operation, opts ...Option) *Sequence {
	cfg := newSettings("Sequence", opts)
	return &Sequence{
		name:  cfg.name,
		ops:   append([]Operation(nil), ops...),
		clock: cfg.clock,
	}
}

// Chain is shorthand for NewSequence(ops).
func Chain(ops ...Operation) *Sequence {
	return NewSequence(ops)
}

// Name returns the sequence name.
func (q *Sequence) Name() string { return q.name }

// Ops returns the child operations in order.
func (q *Sequence) Ops() []Operation {
	return append([]Operation(nil), q.ops...)
}

// Apply runs every child in order.
//
// When a child fails the State reached so far is returned together with the
// error, after an "error" event is logged.
func (q *Sequence) Apply(ctx context.Context, s *State) (*State, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Sequence",
		trace.WithAttributes(attribute.String("qrecall.op", q.name)))
	defer span.End()

	start := q.clock.Now()
	cur := s

	for _, op := range q.ops {
		if err := ctx.Err(); err != nil {
			cur.Log("error", map[string]any{
				"name":  q.name,
				"kind":  string(KindCanceled),
				"error": err.Error(),
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, "canceled")
			return cur, &OpError{Kind: KindCanceled, Op: q.name, Err: err}
		}

		out, secs, err := runChild(ctx, q.clock, op, cur)
		if out != nil {
			cur = out
		}
		cur.Log("time", map[string]any{
			"name":    op.Name(),
			"seconds": secs,
		})

		if err != nil {
			cur.Log("error", map[string]any{
				"name":  op.Name(),
				"kind":  string(KindOf(err)),
				"error": err.Error(),
			})
			cur.Log("time_overall", map[string]any{
				"name":    q.name,
				"seconds": since(q.clock, start),
			})
			slog.Debug("sequence child failed",
				"sequence", q.name,
				"op", op.Name(),
				"error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, op.Name())
			return cur, err
		}
	}

	cur.Log("time_overall", map[string]any{
		"name":    q.name,
		"seconds": since(q.clock, start),
	})
	return cur, nil
}

// runChild applies op inside its own span and records duration metrics.
func runChild(ctx context.Context, clock Clock, op Operation, s *State) (*State, float64, error) {
	ctx, span := tracer.Start(ctx, op.Name())
	defer span.End()

	t0 := clock.Now()
	out, err := op.Apply(ctx, s)
	secs := since(clock, t0)

	opDuration.WithLabelValues(op.Name()).Observe(secs)
	if err != nil {
		opErrors.WithLabelValues(op.Name(), string(KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, secs, err
}
