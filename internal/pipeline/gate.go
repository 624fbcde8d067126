package pipeline

import (
	"context"
	"log/slog"
)

// Predicate evaluates a State. A returned error is treated as a failed check.
type Predicate func(s *State) (bool, error)

// Check adapts an infallible boolean function into a Predicate.
func Check(fn func(s *State) bool) Predicate {
	return func(s *State) (bool, error) {
		return fn(s), nil
	}
}

// Gate checks a predicate before letting the State continue.
//
// On failure the Gate runs its recovery operation if one is set. Without
// recovery it returns a GateFailure, or passes the State through when
// WithRaiseOnFail(false) was given.
type Gate struct {
	name        string
	pred        Predicate
	onFail      Operation
	raiseOnFail bool
}

// NewGate creates a Gate over pred.
func NewGate(pred Predicate, opts ...Option) (*Gate, error) {
	cfg := newSettings("Gate", opts)
	if pred == nil {
		return nil, NewConfigError(cfg.name, "gate predicate is nil")
	}
	return &Gate{
		name:        cfg.name,
		pred:        pred,
		onFail:      cfg.onFail,
		raiseOnFail: cfg.raiseOnFail,
	}, nil
}

// Name returns the gate name.
func (g *Gate) Name() string { return g.name }

// Apply evaluates the predicate and routes the State accordingly.
func (g *Gate) Apply(ctx context.Context, s *State) (*State, error) {
	ok, predErr := g.pred(s)
	if predErr != nil {
		ok = false
	}

	if ok {
		s.Log(g.name, map[string]any{"ok": true})
		GateOutcomes.WithLabelValues("pass").Inc()
		return s, nil
	}

	payload := map[string]any{"ok": false}
	if predErr != nil {
		payload["predicate_error"] = predErr.Error()
		slog.Warn("gate predicate error",
			"gate", g.name,
			"error", predErr)
	}
	s.Log(g.name, payload)

	if g.onFail != nil {
		out, err := g.onFail.Apply(ctx, s)
		if out == nil {
			out = s
		}
		out.Log(g.name, map[string]any{
			"recovered": err == nil,
			"via":       g.onFail.Name(),
		})
		if err != nil {
			GateOutcomes.WithLabelValues("failed").Inc()
			return out, err
		}
		GateOutcomes.WithLabelValues("recovered").Inc()
		return out, nil
	}

	if g.raiseOnFail {
		GateOutcomes.WithLabelValues("failed").Inc()
		return s, NewGateFailure(g.name, predErr)
	}
	GateOutcomes.WithLabelValues("passthrough").Inc()
	return s, nil
}
