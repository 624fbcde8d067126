package search

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/qrecall/internal/pipeline"
)

// mtimeScale shrinks a Unix mtime into a small score bonus so recently
// modified files rank slightly higher.
const mtimeScale = 1e12

// Glob appends one candidate per file matching a doublestar pattern under
// the root. Candidates carry no snippet; score is 0.2 plus a tiny mtime bonus.
type Glob struct {
	root    string
	pattern string
}

// NewGlob creates a Glob. An empty pattern matches every file.
func NewGlob(dir, pattern string) (*Glob, error) {
	if pattern == "" {
		pattern = DefaultFileGlob
	}
	if dir == "" {
		return nil, pipeline.NewConfigError("Glob", "glob needs a root directory")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, pipeline.NewConfigError("Glob", "invalid pattern %q", pattern)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, pipeline.NewConfigError("Glob", "resolve root: %v", err)
	}
	return &Glob{root: root, pattern: pattern}, nil
}

// Name returns "Glob".
func (g *Glob) Name() string { return "Glob" }

// Apply appends the matching files as candidates.
func (g *Glob) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	fsys := os.DirFS(g.root)
	matches, err := doublestar.Glob(fsys, g.pattern, doublestar.WithFilesOnly())
	if err != nil {
		s.Log("glob_error", map[string]any{"pattern": g.pattern, "error": err.Error()})
		return s, nil
	}

	cands := make([]pipeline.Candidate, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		mtime := 0.0
		if info, err := fs.Stat(fsys, rel); err == nil {
			mtime = float64(info.ModTime().UnixNano()) / 1e9
		}
		cands = append(cands, pipeline.Candidate{
			URI:   URIFromPath(filepath.Join(g.root, filepath.FromSlash(rel))),
			Score: 0.2 + mtime/mtimeScale,
			Meta:  map[string]any{"mtime": mtime},
		})
	}

	s.Candidates = append(s.Candidates, cands...)
	s.Log("glob", map[string]any{"files": len(cands)})
	return s, nil
}
