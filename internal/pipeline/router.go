package pipeline

import (
	"context"
	"log/slog"
)

// Route pairs a label and predicate with the operation to run on a match.
type Route struct {
	Label string
	When  Predicate
	Op    Operation
}

// QueryRouter dispatches the State to the first route whose predicate holds.
//
// Routes are evaluated in declaration order. A predicate that returns an
// error is logged and treated as a non-match.
type QueryRouter struct {
	name         string
	routes       []Route
	defaultOp    Operation
	requireMatch bool
}

// NewQueryRouter validates routes and creates a router.
//
// Every route needs a non-empty unique label, a predicate and an operation.
// Violations return a ConfigError.
func NewQueryRouter(routes []Route, opts ...Option) (*QueryRouter, error) {
	cfg := newSettings("QueryRouter", opts)

	seen := make(map[string]bool, len(routes))
	for i, r := range routes {
		if r.Label == "" {
			return nil, NewConfigError(cfg.name, "route %d has an empty label", i)
		}
		if r.When == nil {
			return nil, NewConfigError(cfg.name, "route %q has no predicate", r.Label)
		}
		if r.Op == nil {
			return nil, NewConfigError(cfg.name, "route %q has no operation", r.Label)
		}
		if seen[r.Label] {
			return nil, NewConfigError(cfg.name, "duplicate route label %q", r.Label)
		}
		seen[r.Label] = true
	}
	if len(routes) == 0 && cfg.defaultRoute == nil {
		return nil, NewConfigError(cfg.name, "router needs at least one route or a default")
	}

	return &QueryRouter{
		name:         cfg.name,
		routes:       append([]Route(nil), routes...),
		defaultOp:    cfg.defaultRoute,
		requireMatch: cfg.requireMatch,
	}, nil
}

// Name returns the router name.
func (r *QueryRouter) Name() string { return r.name }

// Labels returns the route labels in evaluation order.
func (r *QueryRouter) Labels() []string {
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.Label
	}
	return out
}

// Apply runs the first matching route, the default, or neither.
func (r *QueryRouter) Apply(ctx context.Context, s *State) (*State, error) {
	for _, rt := range r.routes {
		ok, err := rt.When(s)
		if err != nil {
			s.Log(r.name, map[string]any{
				"route":           rt.Label,
				"predicate_error": err.Error(),
			})
			slog.Warn("route predicate error",
				"router", r.name,
				"route", rt.Label,
				"error", err)
			continue
		}
		if !ok {
			continue
		}
		return r.dispatch(ctx, s, rt.Label, rt.Op)
	}

	if r.defaultOp != nil {
		return r.dispatch(ctx, s, "default", r.defaultOp)
	}
	if r.requireMatch {
		return s, NewNoRouteMatched(r.name)
	}
	s.Log(r.name, map[string]any{"route": nil})
	return s, nil
}

func (r *QueryRouter) dispatch(ctx context.Context, s *State, label string, op Operation) (*State, error) {
	s.Query.Meta.Route = label
	s.Log(r.name, map[string]any{"route": label})
	slog.Debug("query routed",
		"router", r.name,
		"route", label,
		"op", op.Name())

	out, err := op.Apply(ctx, s)
	if out == nil {
		out = s
	}
	if err != nil {
		return out, err
	}
	out.Log(r.name, map[string]any{"route": label, "done": true})
	return out, nil
}
