package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
)

func TestNewTraceSnapshot_DropsTimings(t *testing.T) {
	s := pipeline.NewState("q")
	s.Log("time", map[string]any{"name": "Grep", "seconds": 0.42})

	snap := NewTraceSnapshot("t", s.Trace)

	require.Len(t, snap.Trace, 1)
	assert.Equal(t, map[string]any{"name": "Grep"}, snap.Trace[0].Payload)
}

func TestAssertGolden(t *testing.T) {
	s := pipeline.NewState("lease")
	s.Log("grep", map[string]any{"matches": 2, "terms": []string{"lease"}, "seconds": 0.01})
	s.Log("answer", map[string]any{"chars": 12})

	AssertGolden(t, "simple_trace", s)
}
