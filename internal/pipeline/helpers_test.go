package pipeline

import (
	"context"
	"errors"
)

// addCandidate returns an op that appends one candidate.
func addCandidate(name, uri string, score float64) Operation {
	return NewFunc(name, func(_ context.Context, s *State) (*State, error) {
		s.Candidates = append(s.Candidates, Candidate{URI: uri, Score: score})
		return s, nil
	})
}

// addEvidence returns an op that appends one evidence fragment.
func addEvidence(name, text string) Operation {
	return NewFunc(name, func(_ context.Context, s *State) (*State, error) {
		s.Evidence = append(s.Evidence, Evidence{Text: text})
		return s, nil
	})
}

// failing returns an op that logs an event and fails with err.
func failing(name string, err error) Operation {
	return NewFunc(name, func(_ context.Context, s *State) (*State, error) {
		s.Log(name, map[string]any{"about_to_fail": true})
		return s, err
	})
}

var errBoom = errors.New("boom")

func traceOps(s *State) []string {
	out := make([]string, len(s.Trace))
	for i, ev := range s.Trace {
		out[i] = ev.Op
	}
	return out
}

func countOp(s *State, op string) int {
	n := 0
	for _, ev := range s.Trace {
		if ev.Op == op {
			n++
		}
	}
	return n
}
