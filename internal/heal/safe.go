package heal

import (
	"context"
	"unicode/utf8"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/rank"
	"github.com/roach88/qrecall/internal/search"
)

// maxDegradedPiece caps each candidate's text in degraded concatenation.
const maxDegradedPiece = 10_000

// SafeGrep is a Grep that never fails: any error is logged and the state is
// returned as it was before the search.
type SafeGrep struct {
	grep *search.Grep
}

// NewSafeGrep creates a SafeGrep rooted at dir.
func NewSafeGrep(dir string, opts ...search.GrepOption) (*SafeGrep, error) {
	g, err := search.NewGrep(dir, append(opts, search.WithGrepName("SafeGrep"))...)
	if err != nil {
		return nil, err
	}
	return &SafeGrep{grep: g}, nil
}

// Name returns "SafeGrep".
func (g *SafeGrep) Name() string { return "SafeGrep" }

// Apply runs the search on a copy of the state and swallows failures.
func (g *SafeGrep) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	out, err := g.grep.Apply(ctx, s.Clone())
	if err != nil {
		s.Log("SafeGrep", map[string]any{"error": err.Error()})
		return s, nil
	}
	return out, nil
}

// AdaptiveConcat concatenates candidates with graceful degradation.
//
// It first runs a strict Concat. If any candidate cannot be read, it falls
// back to a degraded pass that skips unreadable candidates and caps every
// piece at 10,000 characters.
type AdaptiveConcat struct {
	strict *rank.Concat
}

// NewAdaptiveConcat creates an AdaptiveConcat over a character window.
func NewAdaptiveConcat(maxWindow int, opts ...rank.ConcatOption) *AdaptiveConcat {
	return &AdaptiveConcat{
		strict: rank.NewConcat(maxWindow, append(opts, rank.WithStrictReads())...),
	}
}

// Name returns "AdaptiveConcat".
func (a *AdaptiveConcat) Name() string { return "AdaptiveConcat" }

// Apply concatenates, degrading on read failures.
func (a *AdaptiveConcat) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	out, err := a.strict.Apply(ctx, s.Clone())
	if err == nil {
		return out, nil
	}

	read := a.strict.Reader()
	text := ""
	size := 0
	for _, c := range s.Candidates {
		chunk := c.Snippet
		if chunk == "" {
			var readErr error
			if chunk, readErr = read(c.URI); readErr != nil {
				continue
			}
		}
		piece := truncate(chunk, maxDegradedPiece)
		if size+utf8.RuneCountInString(piece) > a.strict.MaxWindow() {
			break
		}
		block := "\n\n----- " + c.URI + "\n" + piece
		text += block
		size += utf8.RuneCountInString(block)
	}

	s.Evidence = append(s.Evidence, pipeline.Evidence{Text: text})
	s.Log("AdaptiveConcat", map[string]any{
		"size":     size,
		"degraded": true,
		"cause":    err.Error(),
	})
	return s, nil
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
