package eval

import (
	"fmt"
	"strings"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Case is one query with its expectations.
type Case struct {
	Name         string      `yaml:"name,omitempty"`
	Query        string      `yaml:"query"`
	MustInclude  []string    `yaml:"must_include,omitempty"`
	MustHitFiles []string    `yaml:"must_hit_files,omitempty"`
	Relevant     []string    `yaml:"relevant,omitempty"`
	Assertions   []Assertion `yaml:"assertions,omitempty"`
}

// Label returns the name, or the query when unnamed.
func (c Case) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Query
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case     Case
	Passed   bool
	Failures []string
	Err      error
	Score    *Score
	State    *pipeline.State
}

// Evaluate checks a finished State against the case.
func (c Case) Evaluate(s *pipeline.State) CaseResult {
	var failures []string

	answer := strings.ToLower(s.Answer)
	for _, term := range c.MustInclude {
		if !strings.Contains(answer, strings.ToLower(term)) {
			failures = append(failures, fmt.Sprintf("answer missing '%s'", term))
		}
	}

	uris := candidateURIs(s)
	for _, name := range c.MustHitFiles {
		if !containsSubstring(uris, name) {
			failures = append(failures, fmt.Sprintf("missing file hit '%s'", name))
		}
	}

	for _, a := range c.Assertions {
		if err := a.Check(s.Trace); err != nil {
			failures = append(failures, err.Error())
		}
	}

	res := CaseResult{Case: c, Passed: len(failures) == 0, Failures: failures, State: s}
	if len(c.Relevant) > 0 {
		score := ScoreIDs(uris, c.Relevant, func(uri, truth string) bool {
			return strings.Contains(uri, truth)
		})
		res.Score = &score
	}
	return res
}

func candidateURIs(s *pipeline.State) []string {
	out := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		if c.URI != "" {
			out = append(out, c.URI)
		}
	}
	return out
}

func containsSubstring(uris []string, sub string) bool {
	for _, u := range uris {
		if strings.Contains(u, sub) {
			return true
		}
	}
	return false
}
