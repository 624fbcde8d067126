package recipe

import (
	"regexp"

	"github.com/roach88/qrecall/internal/heal"
	"github.com/roach88/qrecall/internal/pipeline"
)

type stateCheck func(s *pipeline.State, prev pipeline.Counts) bool

// buildCheck turns p into a conjunction of state checks. allowStagnant is
// only true for loop conditions, the one place a previous count exists.
func buildCheck(field string, p *Predicate, allowStagnant bool) (stateCheck, error) {
	var checks []stateCheck

	if p.HasCandidates != nil {
		has := heal.HasCandidates(*p.HasCandidates)
		checks = append(checks, func(s *pipeline.State, _ pipeline.Counts) bool { return has(s) })
	}
	if p.HasEvidence != nil {
		has := heal.HasEvidence(*p.HasEvidence)
		checks = append(checks, func(s *pipeline.State, _ pipeline.Counts) bool { return has(s) })
	}
	if p.Lang != "" {
		lang := p.Lang
		checks = append(checks, func(s *pipeline.State, _ pipeline.Counts) bool { return s.Query.Lang == lang })
	}
	if p.QueryMatches != "" {
		re, err := regexp.Compile(p.QueryMatches)
		if err != nil {
			return nil, &CompileError{Field: field + ".query_matches", Message: err.Error()}
		}
		checks = append(checks, func(s *pipeline.State, _ pipeline.Counts) bool { return re.MatchString(s.Query.Text) })
	}
	if p.Stagnant {
		if !allowStagnant {
			return nil, &CompileError{Field: field + ".stagnant", Message: "only valid in a loop condition"}
		}
		checks = append(checks, stateCheck(pipeline.Stagnant))
	}
	if p.Not != nil {
		inner, err := buildCheck(field+".not", p.Not, allowStagnant)
		if err != nil {
			return nil, err
		}
		checks = append(checks, func(s *pipeline.State, prev pipeline.Counts) bool { return !inner(s, prev) })
	}

	if len(checks) == 0 {
		return nil, &CompileError{Field: field, Message: "predicate has no conditions"}
	}
	return func(s *pipeline.State, prev pipeline.Counts) bool {
		for _, c := range checks {
			if !c(s, prev) {
				return false
			}
		}
		return true
	}, nil
}

// statePredicate compiles p for places that only see the current state.
func statePredicate(field string, p *Predicate) (func(*pipeline.State) bool, error) {
	check, err := buildCheck(field, p, false)
	if err != nil {
		return nil, err
	}
	return func(s *pipeline.State) bool { return check(s, pipeline.Counts{}) }, nil
}

// untilFunc compiles a loop condition. A nil predicate stops on stagnation.
func untilFunc(field string, p *Predicate) (pipeline.UntilFunc, error) {
	if p == nil {
		return pipeline.Stagnant, nil
	}
	check, err := buildCheck(field, p, true)
	if err != nil {
		return nil, err
	}
	return pipeline.UntilFunc(check), nil
}
