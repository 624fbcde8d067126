package heal

import "github.com/roach88/qrecall/internal/pipeline"

// DefaultMinEvidenceChars is the fragment length HasEvidence looks for.
const DefaultMinEvidenceChars = 500

// HasCandidates reports whether the state holds at least n candidates.
func HasCandidates(n int) func(*pipeline.State) bool {
	return func(s *pipeline.State) bool {
		return len(s.Candidates) >= n
	}
}

// HasEvidence reports whether any evidence fragment has at least minChars
// characters.
func HasEvidence(minChars int) func(*pipeline.State) bool {
	return func(s *pipeline.State) bool {
		for _, e := range s.Evidence {
			if e.Text != "" && len([]rune(e.Text)) >= minChars {
				return true
			}
		}
		return false
	}
}
