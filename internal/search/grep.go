package search

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/qrecall/internal/pipeline"
)

// Defaults for Grep.
const (
	DefaultFileGlob     = "**/*"
	DefaultIgnore       = `\.(png|jpg|gif|pdf|bin|exe|zip)$`
	DefaultContextLines = 2
	engineName          = "go"
)

// Grep finds lines containing each search term and turns every hit into a
// candidate with a snippet of surrounding lines.
//
// Search terms come from Query.Meta.SearchTerms, falling back to the raw
// query text. When Query.Meta.PathHints name existing paths under the root,
// only those are searched.
//
// Unreadable files are skipped. A base directory that cannot be walked is
// reported as a "grep_error" event, not as an error.
type Grep struct {
	name          string
	root          string
	fileGlob      string
	ignore        *regexp.Regexp
	context       int
	caseSensitive bool
	pathHints     bool
	lines         *LineCache
}

// GrepOption configures a Grep.
type GrepOption func(*grepConfig)

type grepConfig struct {
	name          string
	fileGlob      string
	ignore        string
	context       int
	caseSensitive bool
	noPathHints   bool
	lines         *LineCache
}

// WithFileGlob restricts the search to files whose path relative to the root
// matches a doublestar pattern.
func WithFileGlob(pattern string) GrepOption {
	return func(c *grepConfig) {
		c.fileGlob = pattern
	}
}

// WithIgnore sets the regular expression of paths to skip.
func WithIgnore(pattern string) GrepOption {
	return func(c *grepConfig) {
		c.ignore = pattern
	}
}

// WithContextLines sets how many lines around a hit go into the snippet.
//
// Default: 2
func WithContextLines(n int) GrepOption {
	return func(c *grepConfig) {
		c.context = n
	}
}

// WithCaseSensitive turns off case folding.
func WithCaseSensitive() GrepOption {
	return func(c *grepConfig) {
		c.caseSensitive = true
	}
}

// WithoutPathHints makes Grep ignore Query.Meta.PathHints.
func WithoutPathHints() GrepOption {
	return func(c *grepConfig) {
		c.noPathHints = true
	}
}

// WithLineCache shares a file cache between operations.
func WithLineCache(lc *LineCache) GrepOption {
	return func(c *grepConfig) {
		c.lines = lc
	}
}

// WithGrepName overrides the operation name.
func WithGrepName(name string) GrepOption {
	return func(c *grepConfig) {
		c.name = name
	}
}

// NewGrep creates a Grep rooted at dir.
func NewGrep(dir string, opts ...GrepOption) (*Grep, error) {
	cfg := grepConfig{
		name:     "Grep",
		fileGlob: DefaultFileGlob,
		ignore:   DefaultIgnore,
		context:  DefaultContextLines,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if dir == "" {
		return nil, pipeline.NewConfigError(cfg.name, "grep needs a root directory")
	}
	if cfg.context < 0 {
		return nil, pipeline.NewConfigError(cfg.name, "context lines must be >= 0, got %d", cfg.context)
	}
	if !doublestar.ValidatePattern(cfg.fileGlob) {
		return nil, pipeline.NewConfigError(cfg.name, "invalid file glob %q", cfg.fileGlob)
	}
	ignore, err := regexp.Compile(cfg.ignore)
	if err != nil {
		return nil, pipeline.NewConfigError(cfg.name, "invalid ignore pattern: %v", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, pipeline.NewConfigError(cfg.name, "resolve root: %v", err)
	}
	lines := cfg.lines
	if lines == nil {
		if lines, err = NewLineCache(DefaultLineCacheSize); err != nil {
			return nil, err
		}
	}

	return &Grep{
		name:          cfg.name,
		root:          root,
		fileGlob:      cfg.fileGlob,
		ignore:        ignore,
		context:       cfg.context,
		caseSensitive: cfg.caseSensitive,
		pathHints:     !cfg.noPathHints,
		lines:         lines,
	}, nil
}

// Name returns the operation name.
func (g *Grep) Name() string { return g.name }

// Root returns the absolute search root.
func (g *Grep) Root() string { return g.root }

// Apply searches every term under every base and appends the hits.
func (g *Grep) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	terms := s.Query.Meta.SearchTerms
	if len(terms) == 0 {
		terms = []string{s.Query.Text}
	}
	bases := g.resolveBases(s)

	var hits []pipeline.Candidate
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		for _, base := range bases {
			found, err := g.searchTerm(ctx, term, base)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return s, err
				}
				s.Log("grep_error", map[string]any{
					"term":  term,
					"base":  base,
					"error": err.Error(),
				})
				slog.Warn("grep failed",
					"term", term,
					"base", base,
					"error", err)
				continue
			}
			hits = append(hits, found...)
		}
	}

	s.Candidates = append(s.Candidates, hits...)
	s.Log("grep", map[string]any{
		"matches": len(hits),
		"terms":   len(terms),
		"engine":  engineName,
		"bases":   len(bases),
	})
	return s, nil
}

// resolveBases returns the existing path-hint directories, or the root.
func (g *Grep) resolveBases(s *pipeline.State) []string {
	var bases []string
	seen := make(map[string]bool)
	if g.pathHints {
		for _, hint := range s.Query.Meta.PathHints {
			hint = strings.TrimSpace(hint)
			if hint == "" {
				continue
			}
			base := hint
			if !filepath.IsAbs(base) {
				base = filepath.Join(g.root, base)
			}
			base = filepath.Clean(base)
			if seen[base] {
				continue
			}
			seen[base] = true
			if _, err := os.Stat(base); err == nil {
				bases = append(bases, base)
			}
		}
	}
	if len(bases) == 0 {
		bases = []string{g.root}
	}
	return bases
}

func (g *Grep) searchTerm(ctx context.Context, term, base string) ([]pipeline.Candidate, error) {
	needle := term
	if !g.caseSensitive {
		needle = strings.ToLower(term)
	}

	var hits []pipeline.Candidate
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != base {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || g.ignore.MatchString(path) || !g.matchesGlob(path) {
			return nil
		}

		lines, binary, readErr := g.lines.Lines(path)
		if readErr != nil || binary {
			return nil
		}
		uri := URIFromPath(path)
		for i, line := range lines {
			hay := line
			if !g.caseSensitive {
				hay = strings.ToLower(line)
			}
			if !strings.Contains(hay, needle) {
				continue
			}
			hits = append(hits, pipeline.Candidate{
				URI:     uri,
				Score:   1.0,
				Snippet: Window(lines, i, g.context),
				Meta:    map[string]any{"line": i + 1, "term": term},
			})
		}
		return nil
	})
	return hits, err
}

func (g *Grep) matchesGlob(path string) bool {
	if g.fileGlob == DefaultFileGlob {
		return true
	}
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(g.fileGlob, filepath.ToSlash(rel))
	return ok
}
