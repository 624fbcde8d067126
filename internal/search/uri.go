package search

import (
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// URIFromPath returns the file:// URI for path, made absolute.
func URIFromPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fileScheme + filepath.ToSlash(path)
}

// PathFromURI strips the file:// scheme. Other URIs are returned unchanged
// with ok=false.
func PathFromURI(uri string) (path string, ok bool) {
	if !strings.HasPrefix(uri, fileScheme) {
		return uri, false
	}
	return filepath.FromSlash(strings.TrimPrefix(uri, fileScheme)), true
}

// ReadURI reads the whole file behind a file:// URI. Invalid UTF-8 is
// dropped rather than reported.
func ReadURI(uri string) (string, error) {
	path, _ := PathFromURI(uri)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
