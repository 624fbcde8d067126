package fpcache

import (
	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/search"
)

// lineRadius is how many lines around Meta["line"] a FileReader returns.
const lineRadius = 3

// Reader loads the text of a candidate that carries no snippet.
type Reader interface {
	ReadCandidate(c pipeline.Candidate) (string, bool)
}

// ReaderFunc adapts a function into a Reader.
type ReaderFunc func(c pipeline.Candidate) (string, bool)

// ReadCandidate calls f.
func (f ReaderFunc) ReadCandidate(c pipeline.Candidate) (string, bool) { return f(c) }

// FileReader reads file:// candidates from disk.
//
// When the candidate carries a positive Meta["line"], only the lines within
// three of it are returned; otherwise the whole file.
type FileReader struct {
	lines *search.LineCache
}

// NewFileReader creates a FileReader backed by lines. A nil cache gets a
// private one.
func NewFileReader(lines *search.LineCache) *FileReader {
	if lines == nil {
		lines, _ = search.NewLineCache(search.DefaultLineCacheSize)
	}
	return &FileReader{lines: lines}
}

// ReadCandidate implements Reader.
func (r *FileReader) ReadCandidate(c pipeline.Candidate) (string, bool) {
	path, ok := search.PathFromURI(c.URI)
	if !ok || c.URI == "" {
		return "", false
	}
	line := lineOf(c.Meta)
	if line <= 0 {
		text, err := search.ReadURI(c.URI)
		if err != nil {
			return "", false
		}
		return text, true
	}

	lines, binary, err := r.lines.Lines(path)
	if err != nil || binary {
		return "", false
	}
	return search.Window(lines, line-1, lineRadius), true
}

func lineOf(meta map[string]any) int {
	switch v := meta["line"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
