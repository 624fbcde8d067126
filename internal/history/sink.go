package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath is where the JSONL history lives unless configured.
const DefaultPath = ".qrecall/history.jsonl"

// Sink receives run records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Location() string
}

// JSONLSink appends one JSON object per line to a file.
//
// Thread-safety: Append is serialised by an internal mutex.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink creates a sink writing to path. An empty path uses
// DefaultPath.
func NewJSONLSink(path string) *JSONLSink {
	if path == "" {
		path = DefaultPath
	}
	return &JSONLSink{path: path}
}

// Location returns the file path.
func (j *JSONLSink) Location() string { return j.path }

// Append encodes rec on its own line, creating parent directories as needed.
func (j *JSONLSink) Append(_ context.Context, rec Record) error {
	line, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write history: %w", err)
	}
	return f.Close()
}

// ReadJSONL loads every record from a JSONL history file.
func ReadJSONL(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var out []Record
	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("history line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// marshalRecord encodes rec as compact JSON without HTML escaping, so
// snippets containing <, > and & stay readable.
func marshalRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
