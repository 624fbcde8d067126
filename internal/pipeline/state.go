package pipeline

import (
	"sort"
	"time"
)

// DefaultTokenBudget is the token cap a fresh State starts with.
const DefaultTokenBudget = 2_000_000

// Query is the request a pipeline run answers.
// It is created once per run and mutated in place by operations.
type Query struct {
	Text string
	Lang string
	Meta QueryMeta
}

// Candidate is a provisional reference to content with a relevance score.
//
// An empty Snippet means "no cached text". Identity for deduplication is
// the (URI, Snippet) pair.
type Candidate struct {
	URI     string
	Score   float64
	Snippet string
	Meta    map[string]any
}

// HasSnippet reports whether the candidate carries cached text.
func (c Candidate) HasSnippet() bool {
	return c.Snippet != ""
}

// Evidence is text already selected for the final answer.
type Evidence struct {
	Text string
	URI  string
	Meta map[string]any
}

// TraceEvent is one entry of the append-only audit log.
type TraceEvent struct {
	Op      string
	Payload map[string]any
	Time    time.Time
}

// Budget carries the token and wall-clock limits for a run.
//
// Deadline == 0 means no wall-clock limit. Start marks when the run began and
// is what BudgetGuard measures elapsed time against. It stays zero until the
// first BudgetGuard stamps it from its own Clock, so elapsed time is always
// measured on a single time base.
type Budget struct {
	Tokens      int
	TokensSpent int
	Deadline    time.Duration
	Start       time.Time
}

// State is the value threaded through every operation.
//
// State is mutable in place within one call stack. It must never be shared
// between concurrently running branches: use Clone to obtain an independent
// copy whose containers are not aliased.
type State struct {
	RunID      string
	Query      Query
	Candidates []Candidate
	Evidence   []Evidence
	Answer     string
	HasAnswer  bool
	Budget     Budget
	Trace      []TraceEvent
}

// NewState creates a State for a query with default budget settings.
func NewState(text string) *State {
	return &State{
		Query: Query{
			Text: text,
			Lang: "auto",
		},
		Budget: Budget{
			Tokens: DefaultTokenBudget,
		},
	}
}

// Log appends a trace event for op with the given payload.
// A nil payload is stored as an empty map so renderers never see nil.
func (s *State) Log(op string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	s.Trace = append(s.Trace, TraceEvent{
		Op:      op,
		Payload: payload,
		Time:    time.Now(),
	})
}

// SetAnswer stores the final answer.
func (s *State) SetAnswer(answer string) {
	s.Answer = answer
	s.HasAnswer = true
}

// Clone returns a deep copy of the state.
//
// Candidate and evidence slices, every meta map (recursively), the query meta
// slices and the trace slice are fresh containers, so mutations through the
// copy are invisible to the original and vice versa.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		RunID:     s.RunID,
		Query:     Query{Text: s.Query.Text, Lang: s.Query.Lang, Meta: s.Query.Meta.Clone()},
		Answer:    s.Answer,
		HasAnswer: s.HasAnswer,
		Budget:    s.Budget,
	}
	if s.Candidates != nil {
		out.Candidates = make([]Candidate, len(s.Candidates))
		for i, c := range s.Candidates {
			c.Meta = cloneMap(c.Meta)
			out.Candidates[i] = c
		}
	}
	if s.Evidence != nil {
		out.Evidence = make([]Evidence, len(s.Evidence))
		for i, e := range s.Evidence {
			e.Meta = cloneMap(e.Meta)
			out.Evidence[i] = e
		}
	}
	if s.Trace != nil {
		out.Trace = make([]TraceEvent, len(s.Trace))
		for i, ev := range s.Trace {
			ev.Payload = cloneMap(ev.Payload)
			out.Trace[i] = ev
		}
	}
	return out
}

// Counts is the (candidates, evidence) pair Loop predicates compare against.
type Counts struct {
	Candidates int
	Evidence   int
}

// CountsOf captures the current candidate and evidence counts.
func CountsOf(s *State) Counts {
	return Counts{Candidates: len(s.Candidates), Evidence: len(s.Evidence)}
}

// TextChars returns the number of characters across all text fields of the
// state. BudgetGuard uses it as a cheap token proxy.
func (s *State) TextChars() int {
	n := len([]rune(s.Query.Text))
	for _, c := range s.Candidates {
		n += len([]rune(c.Snippet))
	}
	for _, e := range s.Evidence {
		n += len([]rune(e.Text))
	}
	n += len([]rune(s.Answer))
	return n
}

type candidateKey struct {
	uri     string
	snippet string
}

// DedupCandidates removes (URI, Snippet) duplicates.
//
// The result is ordered by score descending, then URI ascending; for each
// duplicate group the highest-scoring entry survives.
func DedupCandidates(cands []Candidate) []Candidate {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].URI < sorted[j].URI
	})

	seen := make(map[candidateKey]bool, len(sorted))
	out := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		key := candidateKey{uri: c.URI, snippet: c.Snippet}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
