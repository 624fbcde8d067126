package search

import (
	"bytes"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLineCacheSize is the number of files a LineCache keeps.
const DefaultLineCacheSize = 256

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 8000

type cachedFile struct {
	modTime time.Time
	size    int64
	lines   []string
	binary  bool
}

// LineCache keeps recently read files split into lines.
//
// Entries are validated against the file's size and modification time on
// every lookup, so an edited file is re-read. LineCache is safe for
// concurrent use.
type LineCache struct {
	files *lru.Cache[string, cachedFile]
}

// NewLineCache creates a cache holding up to size files.
func NewLineCache(size int) (*LineCache, error) {
	if size < 1 {
		size = DefaultLineCacheSize
	}
	files, err := lru.New[string, cachedFile](size)
	if err != nil {
		return nil, err
	}
	return &LineCache{files: files}, nil
}

// Lines returns the lines of the file at path. binary reports a file that
// looks like binary data, in which case lines is nil.
func (c *LineCache) Lines(path string) (lines []string, binary bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if cached, ok := c.files.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.lines, cached.binary, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	entry := cachedFile{modTime: info.ModTime(), size: info.Size()}
	if isBinary(data) {
		entry.binary = true
	} else {
		entry.lines = SplitLines(strings.ToValidUTF8(string(data), ""))
	}
	c.files.Add(path, entry)
	return entry.lines, entry.binary, nil
}

// Len returns the number of cached files.
func (c *LineCache) Len() int {
	return c.files.Len()
}

// SplitLines splits text into lines without trailing newline characters.
// A final newline does not produce an empty last line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Window joins the lines within radius of idx (0-based).
func Window(lines []string, idx, radius int) string {
	if len(lines) == 0 {
		return ""
	}
	start := max(0, idx-radius)
	end := min(len(lines), idx+radius+1)
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

func isBinary(data []byte) bool {
	n := min(len(data), binarySniffLen)
	return bytes.IndexByte(data[:n], 0) >= 0
}
