package eval

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
)

// fakeRetrieval returns candidates for queries mentioning "lease" and fails
// on queries mentioning "boom".
func fakeRetrieval() pipeline.Operation {
	return pipeline.NewFunc("fake", func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
		if strings.Contains(s.Query.Text, "boom") {
			return s, errors.New("backend down")
		}
		if strings.Contains(s.Query.Text, "lease") {
			s.Candidates = []pipeline.Candidate{
				{URI: "file:///repo/notes.md", Score: 2},
				{URI: "file:///repo/docs/lease.md", Score: 1},
			}
			s.Log("grep", map[string]any{"matches": 2})
			s.SetAnswer("The lease renewal deadline is May 1.")
		} else {
			s.SetAnswer("No evidence found.")
		}
		s.Log("answer", map[string]any{"chars": len(s.Answer)})
		return s, nil
	})
}

func TestCase_Evaluate(t *testing.T) {
	s := pipeline.NewState("lease")
	s.Candidates = []pipeline.Candidate{{URI: "file:///repo/docs/lease.md"}}
	s.SetAnswer("Renewal happens in MAY")

	res := Case{
		Query:        "lease",
		MustInclude:  []string{"may", "june"},
		MustHitFiles: []string{"lease.md", "rent.md"},
	}.Evaluate(s)

	assert.False(t, res.Passed)
	assert.Equal(t, []string{"answer missing 'june'", "missing file hit 'rent.md'"}, res.Failures)
	assert.Nil(t, res.Score)
}

func TestSuite_Run(t *testing.T) {
	suite := &Suite{
		Name: "lease",
		Cases: []Case{
			{
				Name:         "renewal",
				Query:        "lease renewal",
				MustInclude:  []string{"renewal"},
				MustHitFiles: []string{"lease.md"},
				Relevant:     []string{"docs/lease.md"},
				Assertions:   []Assertion{{Type: AssertTraceOrder, Ops: []string{"grep", "answer"}}},
			},
			{Query: "pet policy", MustInclude: []string{"pets"}},
			{Name: "outage", Query: "boom"},
		},
	}

	results, err := suite.Run(context.Background(), fakeRetrieval(), WithRunIDs(pipeline.NewFixedGenerator("r1", "r2", "r3")))

	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Passed)
	require.NotNil(t, results[0].Score)
	assert.Equal(t, 0.5, results[0].Score.Precision)
	assert.Equal(t, 0.5, results[0].Score.MRR)
	assert.Equal(t, "r1", results[0].State.RunID)

	assert.False(t, results[1].Passed)
	assert.Equal(t, []string{"answer missing 'pets'"}, results[1].Failures)

	assert.False(t, results[2].Passed)
	assert.EqualError(t, results[2].Err, "backend down")

	sum := suite.Summarize(results)
	assert.Equal(t, Summary{Suite: "lease", Passed: 1, Total: 3, Scored: 1, Mean: *results[0].Score}, sum)
}

func TestSuite_StopOnFail(t *testing.T) {
	suite := &Suite{Name: "s", Cases: []Case{
		{Query: "boom"},
		{Query: "lease"},
	}}

	results, err := suite.Run(context.Background(), fakeRetrieval(), StopOnFail())

	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSuite_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	suite := &Suite{Name: "s", Cases: []Case{{Query: "lease"}}}

	results, err := suite.Run(ctx, fakeRetrieval())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestSuite_Report(t *testing.T) {
	suite := &Suite{Name: "lease", Cases: []Case{
		{Name: "renewal", Query: "lease", Relevant: []string{"docs/lease.md"}},
		{Query: "boom"},
	}}
	results, err := suite.Run(context.Background(), fakeRetrieval())
	require.NoError(t, err)

	var buf bytes.Buffer
	sum := suite.Report(&buf, results)

	assert.Equal(t, 1, sum.Passed)
	out := buf.String()
	assert.Contains(t, out, "lease: 1/2 passed\n")
	assert.Contains(t, out, "- PASS: renewal\n")
	assert.Contains(t, out, "- FAIL: boom\n    error: backend down\n")
	assert.Contains(t, out, "p=0.500 r=1.000 f1=0.667 mrr=0.500")
	assert.Contains(t, out, "mean over 1 scored")
}
