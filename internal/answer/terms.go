package answer

import (
	"context"
	"regexp"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/qrecall/internal/pipeline"
)

// MaxTerms is how many search terms TermExtractor keeps.
const MaxTerms = 6

var termPattern = regexp.MustCompile(`[A-Za-z\p{Cyrillic}0-9\-]{4,}`)

// TermExtractor derives search terms from the query text.
//
// Words of four or more Latin, Cyrillic, digit or hyphen characters are
// lowercased and deduplicated, the configured extra terms are added, and the
// longest MaxTerms are stored as Query.Meta.SearchTerms (replacing any
// previous terms). Equal lengths sort alphabetically.
type TermExtractor struct {
	extra []string
	lower cases.Caser
}

// NewTermExtractor creates a TermExtractor that always includes extra.
func NewTermExtractor(extra ...string) *TermExtractor {
	return &TermExtractor{extra: extra, lower: cases.Lower(language.Und)}
}

// Name returns "TermExtractor".
func (e *TermExtractor) Name() string { return "TermExtractor" }

// Apply implements pipeline.Operation.
func (e *TermExtractor) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	terms := e.Extract(s.Query.Text)
	s.Query.Meta.SearchTerms = terms
	s.Log("term_extract", map[string]any{"terms": append([]string(nil), terms...)})
	return s, nil
}

// Extract returns the search terms for text.
func (e *TermExtractor) Extract(text string) []string {
	text = norm.NFC.String(text)
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}
	for _, w := range termPattern.FindAllString(text, -1) {
		add(e.lower.String(w))
	}
	for _, t := range e.extra {
		add(t)
	}

	sort.SliceStable(terms, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(terms[i]), utf8.RuneCountInString(terms[j])
		if li != lj {
			return li > lj
		}
		return terms[i] < terms[j]
	})
	if len(terms) > MaxTerms {
		terms = terms[:MaxTerms]
	}
	return terms
}
