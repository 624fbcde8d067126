package history

import (
	"context"
	"log/slog"

	"github.com/roach88/qrecall/internal/pipeline"
)

// PersistHistory appends a Record of the current State to a Sink.
//
// It never fails the pipeline: the outcome is logged as a "PersistHistory"
// event {ok, path[, error]}.
type PersistHistory struct {
	sink    Sink
	include Include
	clock   pipeline.Clock
}

// PersistOption configures PersistHistory.
type PersistOption func(*PersistHistory)

// WithoutTrace leaves the trace out of the record.
func WithoutTrace() PersistOption {
	return func(p *PersistHistory) { p.include.Trace = false }
}

// WithoutCandidates leaves candidates out of the record.
func WithoutCandidates() PersistOption {
	return func(p *PersistHistory) { p.include.Candidates = false }
}

// WithoutEvidence leaves evidence out of the record.
func WithoutEvidence() PersistOption {
	return func(p *PersistHistory) { p.include.Evidence = false }
}

// WithMaxText sets the clip length for text fields. Zero disables clipping.
func WithMaxText(n int) PersistOption {
	return func(p *PersistHistory) { p.include.MaxText = n }
}

// WithClock sets the clock used for record timestamps.
func WithClock(c pipeline.Clock) PersistOption {
	return func(p *PersistHistory) { p.clock = c }
}

// NewPersistHistory creates the operation. A nil sink writes JSONL to
// DefaultPath.
func NewPersistHistory(sink Sink, opts ...PersistOption) *PersistHistory {
	if sink == nil {
		sink = NewJSONLSink("")
	}
	p := &PersistHistory{sink: sink, include: IncludeAll, clock: pipeline.SystemClock{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "PersistHistory".
func (p *PersistHistory) Name() string { return "PersistHistory" }

// Apply implements pipeline.Operation.
func (p *PersistHistory) Apply(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
	rec := NewRecord(s, p.include, p.clock.Now())
	if err := p.sink.Append(ctx, rec); err != nil {
		slog.Warn("history write failed",
			"path", p.sink.Location(),
			"error", err)
		s.Log(p.Name(), map[string]any{"ok": false, "path": p.sink.Location(), "error": err.Error()})
		return s, nil
	}
	s.Log(p.Name(), map[string]any{"ok": true, "path": p.sink.Location()})
	return s, nil
}
