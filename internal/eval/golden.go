package eval

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/qrecall/internal/pipeline"
)

// volatileKeys are payload keys that carry wall-clock measurements and are
// left out of snapshots.
var volatileKeys = map[string]bool{
	"seconds": true,
	"until":   true,
}

// TraceSnapshot is the deterministic projection of a run's trace: ops and
// payloads in order, without timestamps or timing payloads.
type TraceSnapshot struct {
	Name  string          `json:"name"`
	Trace []SnapshotEvent `json:"trace"`
}

// SnapshotEvent is one trace event of a TraceSnapshot.
type SnapshotEvent struct {
	Op      string         `json:"op"`
	Payload map[string]any `json:"payload"`
}

// NewTraceSnapshot builds the snapshot of trace.
func NewTraceSnapshot(name string, trace []pipeline.TraceEvent) TraceSnapshot {
	snap := TraceSnapshot{Name: name, Trace: make([]SnapshotEvent, 0, len(trace))}
	for _, ev := range trace {
		payload := make(map[string]any, len(ev.Payload))
		for k, v := range ev.Payload {
			if !volatileKeys[k] {
				payload[k] = v
			}
		}
		snap.Trace = append(snap.Trace, SnapshotEvent{Op: ev.Op, Payload: payload})
	}
	return snap
}

// Marshal renders the snapshot as indented JSON with sorted payload keys
// and a trailing newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AssertGolden compares the trace of s against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/eval -update
func AssertGolden(t *testing.T, name string, s *pipeline.State) {
	t.Helper()

	data, err := NewTraceSnapshot(name, s.Trace).Marshal()
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
