package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/qrecall/internal/history"
	"github.com/roach88/qrecall/internal/pipeline"
)

// isJSONL reports whether path names a JSONL history file rather than a
// SQLite database.
func isJSONL(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jsonl" || ext == ".json"
}

// openSink opens the history sink at path for writing. The returned close
// function is never nil.
func openSink(path string) (history.Sink, func() error, error) {
	if isJSONL(path) {
		return history.NewJSONLSink(path), func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	st, err := history.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// runSource is the read side shared by the SQLite store and JSONL files.
type runSource interface {
	ListRuns(ctx context.Context, limit int) ([]history.RunSummary, error)
	ReadTrace(ctx context.Context, id string) ([]pipeline.TraceEvent, error)
	Close() error
}

// openSource opens a history file for reading. Missing files are an error;
// a SQLite database is never created here.
func openSource(path string) (runSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if isJSONL(path) {
		recs, err := history.ReadJSONL(path)
		if err != nil {
			return nil, err
		}
		return jsonlSource{records: recs}, nil
	}
	return history.Open(path)
}

type jsonlSource struct {
	records []history.Record
}

// ListRuns orders like the SQLite store: newest first, ties by run ID.
func (j jsonlSource) ListRuns(_ context.Context, limit int) ([]history.RunSummary, error) {
	out := make([]history.RunSummary, 0, len(j.records))
	for _, rec := range j.records {
		out = append(out, history.RunSummary{
			ID:          rec.RunID,
			TS:          rec.TS,
			Query:       rec.Query.Text,
			Lang:        rec.Query.Lang,
			Answered:    rec.Answer != nil,
			TokensSpent: rec.Budget.TokensSpent,
			Candidates:  len(rec.Candidates),
			Evidence:    len(rec.Evidence),
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].TS.Equal(out[b].TS) {
			return out[a].TS.After(out[b].TS)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadTrace returns the trace of the last record written for id.
func (j jsonlSource) ReadTrace(_ context.Context, id string) ([]pipeline.TraceEvent, error) {
	for i := len(j.records) - 1; i >= 0; i-- {
		if j.records[i].RunID == id {
			return j.records[i].Events(), nil
		}
	}
	return []pipeline.TraceEvent{}, nil
}

func (jsonlSource) Close() error { return nil }
