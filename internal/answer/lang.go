package answer

import (
	"context"
	"unicode"

	"golang.org/x/text/language"

	"github.com/roach88/qrecall/internal/pipeline"
)

// LangNormalizer sets Query.Lang from the script of the query text:
// any Cyrillic letter selects Russian, everything else English.
type LangNormalizer struct{}

// Name returns "LangNormalizer".
func (LangNormalizer) Name() string { return "LangNormalizer" }

// Apply implements pipeline.Operation.
func (LangNormalizer) Apply(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
	s.Query.Lang = DetectLang(s.Query.Text).String()
	s.Log("lang_norm", map[string]any{"lang": s.Query.Lang})
	return s, nil
}

// DetectLang returns language.Russian for text containing Cyrillic letters
// and language.English otherwise.
func DetectLang(text string) language.Tag {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return language.Russian
		}
	}
	return language.English
}
