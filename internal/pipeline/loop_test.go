package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(nil, Stagnant)
	assert.True(t, IsConfigError(err))

	_, err = NewLoop(Identity{}, nil)
	assert.True(t, IsConfigError(err))

	_, err = NewLoop(Identity{}, Stagnant, WithMaxIters(0))
	assert.True(t, IsConfigError(err))
}

func TestLoop_StopsAtMaxIters(t *testing.T) {
	never := func(*State, Counts) bool { return false }
	loop, err := NewLoop(addCandidate("grow", "a", 1), never, WithMaxIters(3))
	require.NoError(t, err)

	out, err := loop.Apply(context.Background(), NewState("q"))

	require.NoError(t, err)
	assert.Len(t, out.Candidates, 3)
	assert.Equal(t, 3, countOp(out, "loop_iter"))
	last := out.Trace[len(out.Trace)-1]
	assert.Equal(t, "loop", last.Op)
	assert.Equal(t, 3, last.Payload["iters"])
	assert.Equal(t, false, last.Payload["stopped"])
}

func TestLoop_StopsWhenStagnant(t *testing.T) {
	calls := 0
	body := NewFunc("body", func(_ context.Context, s *State) (*State, error) {
		calls++
		if calls <= 2 {
			s.Evidence = append(s.Evidence, Evidence{Text: "more"})
		}
		return s, nil
	})
	loop, err := NewLoop(body, Stagnant)
	require.NoError(t, err)

	out, err := loop.Apply(context.Background(), NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "third iteration adds nothing and stops the loop")
	assert.Len(t, out.Evidence, 2)
	assert.Equal(t, true, out.Trace[len(out.Trace)-1].Payload["stopped"])
}

func TestLoop_UntilReceivesPreIterationCounts(t *testing.T) {
	var prevs []Counts
	until := func(s *State, prev Counts) bool {
		prevs = append(prevs, prev)
		return len(s.Candidates) >= 2
	}
	loop, err := NewLoop(addCandidate("grow", "a", 1), until)
	require.NoError(t, err)

	_, err = loop.Apply(context.Background(), NewState("q"))

	require.NoError(t, err)
	assert.Equal(t, []Counts{{Candidates: 0}, {Candidates: 1}}, prevs)
}

func TestLoop_PropagatesBodyError(t *testing.T) {
	loop, err := NewLoop(failing("bad", errBoom), Stagnant)
	require.NoError(t, err)

	out, err := loop.Apply(context.Background(), NewState("q"))

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, countOp(out, "loop_iter"))
	assert.Equal(t, 1, countOp(out, "loop"))
}
