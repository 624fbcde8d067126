// Package rank orders, trims and concatenates candidates into evidence.
package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/search"
)

// Defaults for the rank operations.
const (
	DefaultMaxCandidates = 20
	DefaultKeywordBoost  = 0.3
	DefaultMaxWindow     = 100_000
	DefaultEnrichTokens  = 1000
)

// ReadFunc loads the full text behind a candidate URI.
type ReadFunc func(uri string) (string, error)

// Ranking boosts candidates whose snippet mentions a keyword, sorts by score
// and keeps the top k.
type Ranking struct {
	k        int
	keywords []string
	boost    float64
}

// NewRanking creates a Ranking. k < 1 uses DefaultMaxCandidates.
func NewRanking(k int, keywords ...string) *Ranking {
	if k < 1 {
		k = DefaultMaxCandidates
	}
	return &Ranking{k: k, keywords: keywords, boost: DefaultKeywordBoost}
}

// Name returns "Ranking".
func (r *Ranking) Name() string { return "Ranking" }

// Apply adds the keyword boost once per keyword found (case-insensitive),
// sorts by score descending and truncates to k.
func (r *Ranking) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	for i := range s.Candidates {
		snippet := strings.ToLower(s.Candidates[i].Snippet)
		for _, kw := range r.keywords {
			if kw != "" && strings.Contains(snippet, strings.ToLower(kw)) {
				s.Candidates[i].Score += r.boost
			}
		}
	}
	sort.SliceStable(s.Candidates, func(i, j int) bool {
		return s.Candidates[i].Score > s.Candidates[j].Score
	})
	if len(s.Candidates) > r.k {
		s.Candidates = s.Candidates[:r.k]
	}
	s.Log("rank", map[string]any{"kept": len(s.Candidates)})
	return s, nil
}

// Concat joins candidate texts into one evidence fragment bounded by a
// character window.
//
// Each piece is written as "\n\n----- <uri>\n<text>". Candidates without a
// snippet are read through the ReadFunc. Concatenation stops at the first
// piece that would overflow the window.
type Concat struct {
	max    int
	read   ReadFunc
	strict bool
}

// ConcatOption configures a Concat.
type ConcatOption func(*Concat)

// WithReader sets how snippet-less candidates are loaded.
func WithReader(read ReadFunc) ConcatOption {
	return func(c *Concat) {
		c.read = read
	}
}

// WithStrictReads makes an unreadable candidate fail the operation instead of
// being skipped.
func WithStrictReads() ConcatOption {
	return func(c *Concat) {
		c.strict = true
	}
}

// NewConcat creates a Concat. maxWindow < 1 uses DefaultMaxWindow.
func NewConcat(maxWindow int, opts ...ConcatOption) *Concat {
	if maxWindow < 1 {
		maxWindow = DefaultMaxWindow
	}
	c := &Concat{max: maxWindow, read: search.ReadURI}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "Concat".
func (c *Concat) Name() string { return "Concat" }

// MaxWindow returns the character window.
func (c *Concat) MaxWindow() int { return c.max }

// Reader returns the configured ReadFunc.
func (c *Concat) Reader() ReadFunc { return c.read }

// Apply appends one evidence fragment when any text was collected.
func (c *Concat) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	var b strings.Builder
	size := 0
	for _, cand := range s.Candidates {
		chunk := cand.Snippet
		if chunk == "" {
			text, err := c.read(cand.URI)
			if err != nil {
				if c.strict {
					return s, &pipeline.OpError{
						Kind:    pipeline.KindTransient,
						Op:      c.Name(),
						Message: fmt.Sprintf("read %s", cand.URI),
						Err:     err,
					}
				}
				continue
			}
			chunk = text
		}
		piece := "\n\n----- " + cand.URI + "\n" + chunk
		n := utf8.RuneCountInString(piece)
		if size+n > c.max {
			break
		}
		b.WriteString(piece)
		size += n
	}

	if size > 0 {
		s.Evidence = append(s.Evidence, pipeline.Evidence{Text: b.String()})
	}
	s.Log("concat", map[string]any{"size": size})
	return s, nil
}

// ContextEnricher replaces short or missing snippets with the head of the
// underlying file, up to maxTokens*4 characters.
type ContextEnricher struct {
	maxTokens int
	read      ReadFunc
}

// NewContextEnricher creates an enricher. maxTokens < 1 uses
// DefaultEnrichTokens; a nil read uses search.ReadURI.
func NewContextEnricher(maxTokens int, read ReadFunc) *ContextEnricher {
	if maxTokens < 1 {
		maxTokens = DefaultEnrichTokens
	}
	if read == nil {
		read = search.ReadURI
	}
	return &ContextEnricher{maxTokens: maxTokens, read: read}
}

// Name returns "ContextEnricher".
func (e *ContextEnricher) Name() string { return "ContextEnricher" }

// Apply enriches candidates in place. Snippets shorter than maxTokens
// characters are kept as they are.
func (e *ContextEnricher) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	limit := e.maxTokens * 4
	enriched := 0
	for i, c := range s.Candidates {
		if c.Snippet != "" && utf8.RuneCountInString(c.Snippet) < e.maxTokens {
			continue
		}
		full, err := e.read(c.URI)
		if err != nil || full == "" {
			continue
		}
		s.Candidates[i].Snippet = truncateRunes(full, limit)
		enriched++
	}
	s.Log("enrich", map[string]any{"n": len(s.Candidates), "enriched": enriched})
	return s, nil
}

// Deduplicate removes (URI, Snippet) duplicates keeping the best score.
type Deduplicate struct{}

// Name returns "Deduplicate".
func (Deduplicate) Name() string { return "Deduplicate" }

// Apply replaces the candidates with their deduplicated form.
func (Deduplicate) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	s.Candidates = pipeline.DedupCandidates(s.Candidates)
	s.Log("dedup", map[string]any{"n": len(s.Candidates)})
	return s, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
