package heal

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/roach88/qrecall/internal/pipeline"
)

// DefaultWidenTerms are the generic terms WidenSearchTerms adds when no
// explicit list is given.
var DefaultWidenTerms = []string{"overview", "summary", "introduction", "appendix"}

// WidenSearchTerms adds extra terms to Query.Meta.SearchTerms so the next
// search casts a wider net.
type WidenSearchTerms struct {
	extra []string
}

// NewWidenSearchTerms creates the refiner. With no terms it uses
// DefaultWidenTerms.
func NewWidenSearchTerms(extra ...string) *WidenSearchTerms {
	if len(extra) == 0 {
		extra = DefaultWidenTerms
	}
	return &WidenSearchTerms{extra: append([]string(nil), extra...)}
}

// Name returns "WidenSearchTerms".
func (w *WidenSearchTerms) Name() string { return "WidenSearchTerms" }

// Apply merges the extra terms into the query meta and logs an
// "auto_refine" event listing the terms that were new.
func (w *WidenSearchTerms) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	added := s.Query.Meta.AddSearchTerms(w.extra...)
	if added == nil {
		added = []string{}
	}
	s.Log("auto_refine", map[string]any{"added": added})
	return s, nil
}

// StagnationGuard runs a refinement when the state stopped improving since
// the guard last saw it.
//
// Progress is measured as (candidate count, total evidence characters). The
// previous measurement is kept in the query meta under a per-guard key, so
// the guard works inside a Loop and stays independent per run. The first
// call only records a baseline.
type StagnationGuard struct {
	name    string
	key     string
	minGain int
	onStall pipeline.Operation
}

// GuardOption configures a StagnationGuard.
type GuardOption func(*StagnationGuard)

// WithGuardName names the guard. The name appears in trace events and keys
// the checkpoint, so guards sharing a pipeline need distinct names.
func WithGuardName(name string) GuardOption {
	return func(g *StagnationGuard) {
		g.name = name
	}
}

var guardSeq atomic.Uint64

// NewStagnationGuard creates a guard. A nil onStall defaults to
// NewWidenSearchTerms(). An unnamed guard gets a checkpoint key unique to
// the instance.
func NewStagnationGuard(minGain int, onStall pipeline.Operation, opts ...GuardOption) *StagnationGuard {
	if minGain < 1 {
		minGain = 1
	}
	if onStall == nil {
		onStall = NewWidenSearchTerms()
	}
	g := &StagnationGuard{minGain: minGain, onStall: onStall}
	for _, opt := range opts {
		opt(g)
	}
	if g.name == "" {
		g.name = "StagnationGuard"
		g.key = fmt.Sprintf("%s:%s#%d", stagnationKey, g.name, guardSeq.Add(1))
	} else {
		g.key = stagnationKey + ":" + g.name
	}
	return g
}

// Name returns the guard name.
func (g *StagnationGuard) Name() string { return g.name }

const stagnationKey = "stagnation_guard"

// Apply compares progress with the last checkpoint and refines on a stall.
// A checkpoint that is missing or malformed counts as no checkpoint.
func (g *StagnationGuard) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	cands, chars := len(s.Candidates), evidenceChars(s)

	prevCands, prevChars, seen := checkpoint(s.Query.Meta.Extra[g.key])
	s.Query.Meta.SetExtra(g.key, map[string]any{"candidates": cands, "evidence_chars": chars})

	if !seen {
		s.Log(g.name, map[string]any{"action": "baseline"})
		return s, nil
	}

	if cands-prevCands < g.minGain && chars-prevChars < g.minGain {
		out, err := g.onStall.Apply(ctx, s)
		if out == nil {
			out = s
		}
		out.Log(g.name, map[string]any{"action": "refine"})
		return out, err
	}

	s.Log(g.name, map[string]any{"action": "none"})
	return s, nil
}

func checkpoint(v any) (cands, chars int, ok bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, 0, false
	}
	cands, ok = m["candidates"].(int)
	if !ok {
		return 0, 0, false
	}
	chars, ok = m["evidence_chars"].(int)
	if !ok {
		return 0, 0, false
	}
	return cands, chars, true
}

func evidenceChars(s *pipeline.State) int {
	n := 0
	for _, e := range s.Evidence {
		n += len([]rune(e.Text))
	}
	return n
}

// AutoHealPass runs a compact recovery pipeline when a weakness predicate
// holds.
type AutoHealPass struct {
	name     string
	recovery pipeline.Operation
	weak     func(*pipeline.State) bool
}

// NewAutoHealPass creates the pass. An empty label defaults to "AutoHealPass".
func NewAutoHealPass(recovery pipeline.Operation, weak func(*pipeline.State) bool, label string) (*AutoHealPass, error) {
	if label == "" {
		label = "AutoHealPass"
	}
	if recovery == nil || weak == nil {
		return nil, pipeline.NewConfigError(label, "auto-heal pass needs a recovery operation and a predicate")
	}
	return &AutoHealPass{name: label, recovery: recovery, weak: weak}, nil
}

// Name returns the pass label.
func (a *AutoHealPass) Name() string { return a.name }

// Apply triggers the recovery if the state is weak.
func (a *AutoHealPass) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	if !a.weak(s) {
		s.Log(a.name, map[string]any{"trigger": false})
		return s, nil
	}
	s.Log(a.name, map[string]any{"trigger": true})
	out, err := a.recovery.Apply(ctx, s)
	if out == nil {
		out = s
	}
	return out, err
}
