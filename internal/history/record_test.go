package history

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/testutil"
)

func sampleState() *pipeline.State {
	s := pipeline.NewState("lease renewal")
	s.RunID = "run-1"
	s.Query.Lang = "en"
	s.Query.Meta.AddSearchTerms("lease", "renewal")
	s.Query.Meta.SetExtra("owner", "ops")
	s.Budget.Start = testutil.Epoch
	s.Budget.TokensSpent = 42
	s.Candidates = []pipeline.Candidate{
		{URI: "file:///a.md", Score: 1, Snippet: "renew by May", Meta: map[string]any{"line": 3}},
	}
	s.Evidence = []pipeline.Evidence{{URI: "file:///a.md", Text: "renew by May"}}
	s.Log("grep", map[string]any{"matches": 1})
	return s
}

func TestNewRecord_IncludesEverything(t *testing.T) {
	rec := NewRecord(sampleState(), IncludeAll, testutil.Epoch)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, testutil.Epoch, rec.TS)
	assert.Equal(t, "lease renewal", rec.Query.Text)
	assert.Equal(t, []string{"lease", "renewal"}, rec.Query.Meta["search_terms"])
	assert.Equal(t, "ops", rec.Query.Meta["owner"])
	assert.Nil(t, rec.Answer, "no answer was set")
	assert.Equal(t, 42, rec.Budget.TokensSpent)
	require.Len(t, rec.Candidates, 1)
	assert.Equal(t, 3, rec.Candidates[0].Meta["line"])
	require.Len(t, rec.Evidence, 1)
	require.Len(t, rec.Trace, 1)
	assert.Equal(t, "grep", rec.Trace[0].Op)
}

func TestNewRecord_Exclusions(t *testing.T) {
	rec := NewRecord(sampleState(), Include{}, testutil.Epoch)

	assert.Nil(t, rec.Candidates)
	assert.Nil(t, rec.Evidence)
	assert.Nil(t, rec.Trace)

	line, err := marshalRecord(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(line), `"candidates"`)
	assert.NotContains(t, string(line), `"trace"`)
	assert.Contains(t, string(line), `"answer":null`)
}

func TestNewRecord_EmptyIncludedListsAreArrays(t *testing.T) {
	rec := NewRecord(pipeline.NewState("q"), IncludeAll, testutil.Epoch)

	line, err := marshalRecord(rec)
	require.NoError(t, err)
	assert.Contains(t, string(line), `"candidates":[]`)
	assert.Contains(t, string(line), `"evidence":[]`)
}

func TestNewRecord_ClipsText(t *testing.T) {
	s := pipeline.NewState("q")
	s.Candidates = []pipeline.Candidate{{URI: "u", Snippet: strings.Repeat("ж", 30)}}
	s.Evidence = []pipeline.Evidence{{Text: strings.Repeat("x", 30)}}

	rec := NewRecord(s, Include{Candidates: true, Evidence: true, MaxText: 10}, testutil.Epoch)

	assert.Equal(t, strings.Repeat("ж", 10), rec.Candidates[0].Snippet)
	assert.Equal(t, strings.Repeat("x", 10), rec.Evidence[0].Text)
}

func TestNewRecord_AnswerAndUnencodablePayloads(t *testing.T) {
	s := pipeline.NewState("q")
	s.SetAnswer("")
	s.Log("odd", map[string]any{
		"err":  errors.New("boom"),
		"fn":   func() {},
		"wait": 1500 * time.Millisecond,
	})

	rec := NewRecord(s, IncludeAll, testutil.Epoch)

	require.NotNil(t, rec.Answer)
	assert.Equal(t, "", *rec.Answer)
	p := rec.Trace[0].Payload
	assert.Equal(t, "boom", p["err"])
	assert.IsType(t, "", p["fn"])
	assert.Equal(t, 1.5, p["wait"])

	_, err := marshalRecord(rec)
	assert.NoError(t, err)
}

func TestRecord_Events(t *testing.T) {
	rec := NewRecord(sampleState(), IncludeAll, testutil.Epoch)

	events := rec.Events()

	require.Len(t, events, 1)
	assert.Equal(t, "grep", events[0].Op)
	assert.Equal(t, 1, events[0].Payload["matches"])
}
