// Package answer turns evidence into a final answer and prepares the query
// for search: language detection and rule-based term extraction.
package answer

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Defaults for ComposeAnswer.
const (
	DefaultPrompt   = "Summarize precisely:"
	MaxAnswerChars  = 50_000
	NoEvidenceFound = "No evidence found."
)

// ComposeAnswer joins the evidence texts under a prompt.
type ComposeAnswer struct {
	prompt string
}

// NewComposeAnswer creates a ComposeAnswer. An empty prompt uses
// DefaultPrompt.
func NewComposeAnswer(prompt string) *ComposeAnswer {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &ComposeAnswer{prompt: prompt}
}

// Name returns "Answer".
func (a *ComposeAnswer) Name() string { return "Answer" }

// Apply sets the answer to prompt + "\n\n" + the newline-joined evidence,
// capped at MaxAnswerChars characters. Without evidence text the answer is
// NoEvidenceFound.
func (a *ComposeAnswer) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	parts := make([]string, 0, len(s.Evidence))
	for _, ev := range s.Evidence {
		if ev.Text != "" {
			parts = append(parts, ev.Text)
		}
	}
	text := clip(strings.Join(parts, "\n"), MaxAnswerChars)

	if text == "" {
		s.SetAnswer(NoEvidenceFound)
	} else {
		s.SetAnswer(a.prompt + "\n\n" + text)
	}
	s.Log("answer", map[string]any{"chars": utf8.RuneCountInString(text)})
	return s, nil
}

func clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
