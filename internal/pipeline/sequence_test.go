package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/testutil"
)

func TestSequence_RunsInOrder(t *testing.T) {
	var seen []int
	first := NewFunc("first", func(_ context.Context, s *State) (*State, error) {
		seen = append(seen, len(s.Candidates))
		s.Candidates = append(s.Candidates, Candidate{URI: "a"})
		return s, nil
	})
	second := NewFunc("second", func(_ context.Context, s *State) (*State, error) {
		seen = append(seen, len(s.Candidates))
		return s, nil
	})

	out, err := Chain(first, second).Apply(context.Background(), NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seen, "second op sees first op's mutation")
	assert.Len(t, out.Candidates, 1)
}

func TestSequence_LogsTimeEvents(t *testing.T) {
	clock := testutil.NewFakeClock()
	clock.SetStep(time.Second)

	seq := NewSequence([]Operation{addCandidate("a", "x", 1), addEvidence("b", "e")},
		WithName("Stack"), WithClock(clock))
	out, err := seq.Apply(context.Background(), NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []string{"time", "time", "time_overall"}, traceOps(out))
	assert.Equal(t, "a", out.Trace[0].Payload["name"])
	assert.Equal(t, 1.0, out.Trace[0].Payload["seconds"])
	assert.Equal(t, "b", out.Trace[1].Payload["name"])
	assert.Equal(t, "Stack", out.Trace[2].Payload["name"])
}

func TestSequence_ErrorReturnsPartialState(t *testing.T) {
	seq := Chain(addCandidate("a", "x", 1), failing("bad", errBoom), addCandidate("never", "y", 1))

	out, err := seq.Apply(context.Background(), NewState("q"))

	require.ErrorIs(t, err, errBoom)
	require.NotNil(t, out)
	assert.Len(t, out.Candidates, 1, "ops after the failure do not run")
	assert.Equal(t, []string{"time", "bad", "time", "error", "time_overall"}, traceOps(out))
	assert.Equal(t, "bad", out.Trace[3].Payload["name"])
	assert.Equal(t, string(KindTransient), out.Trace[3].Payload["kind"])
}

func TestSequence_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Chain(addCandidate("a", "x", 1)).Apply(ctx, NewState("q"))

	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.Empty(t, out.Candidates)
}

func TestSequence_OpsCopied(t *testing.T) {
	ops := []Operation{Identity{}}
	seq := NewSequence(ops)
	ops[0] = addCandidate("swapped", "x", 1)

	assert.Equal(t, "Identity", seq.Ops()[0].Name())
}

func TestSequence_TraceGrows(t *testing.T) {
	s := NewState("q")
	s.Log("seed", nil)
	before := len(s.Trace)

	out, err := Chain(Identity{}).Apply(context.Background(), s)

	require.NoError(t, err)
	assert.Greater(t, len(out.Trace), before)
	assert.Equal(t, "seed", out.Trace[0].Op, "existing events keep their position")
}

func TestRun_AssignsRunID(t *testing.T) {
	gen := NewFixedGenerator("run-1")

	out, err := Run(context.Background(), addCandidate("a", "x", 1), "q", gen)

	require.NoError(t, err)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "q", out.Query.Text)
}

func TestRun_DefaultGeneratorIsUUIDv7(t *testing.T) {
	out, err := Run(context.Background(), Identity{}, "q", nil)

	require.NoError(t, err)
	assert.Len(t, out.RunID, 36)
	assert.Equal(t, byte('7'), out.RunID[14], "version nibble")
}
