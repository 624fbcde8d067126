package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/testutil"
)

const leaseSuite = `
name: lease
recipe: ../recipes/lease.cue
cases:
  - name: deposit
    query: deposit returned
    must_include: [30 days]
    must_hit_files: [lease.md]
    relevant: [docs/lease.md]
  - name: garden
    query: garden hose
    must_include: [hose]
`

func evalWorkspace(t *testing.T) string {
	t.Helper()
	root, _ := workspace(t)
	testutil.WriteTree(t, root, map[string]string{"suites/lease.yaml": leaseSuite})
	return root
}

func TestEval_ReportsFailures(t *testing.T) {
	root := evalWorkspace(t)
	opts := &EvalOptions{
		RootOptions: &RootOptions{Format: "text"},
		RunIDs:      pipeline.NewFixedGenerator("e1", "e2"),
	}

	out, err := execute(t, newEvalCommand(opts), filepath.Join(root, "suites", "lease.yaml"), "--root", root)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "lease: 1/2 passed")
	assert.Contains(t, out, "- PASS: deposit")
	assert.Contains(t, out, "- FAIL: garden")
	assert.Contains(t, out, "missing: answer missing 'hose'")
}

func TestEval_JSON(t *testing.T) {
	root := evalWorkspace(t)
	opts := &EvalOptions{
		RootOptions: &RootOptions{Format: "json"},
		RunIDs:      pipeline.NewFixedGenerator("e1", "e2"),
	}

	out, err := execute(t, newEvalCommand(opts), filepath.Join(root, "suites", "lease.yaml"), "--root", root)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data EvalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Summary.Passed)
	assert.Equal(t, 2, resp.Data.Summary.Total)
	require.Len(t, resp.Data.Cases, 2)
	assert.Equal(t, "e2", resp.Data.Cases[1].RunID)
	assert.False(t, resp.Data.Cases[1].Passed)
	assert.Equal(t, "e1", resp.Data.Cases[0].RunID)
	require.NotNil(t, resp.Data.Cases[0].Score)
	assert.InDelta(t, 1.0, resp.Data.Cases[0].Score.Recall, 1e-9)
}

func TestEval_NoRecipe(t *testing.T) {
	root := testutil.TempTree(t, map[string]string{
		"s.yaml": "name: s\ncases:\n  - query: q\n",
	})

	out, err := execute(t, NewEvalCommand(&RootOptions{Format: "text"}), filepath.Join(root, "s.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "names no recipe")
}

func TestEval_StopOnFail(t *testing.T) {
	root := evalWorkspace(t)
	testutil.WriteTree(t, root, map[string]string{"suites/fail_first.yaml": `
name: ordered
recipe: ../recipes/lease.cue
cases:
  - query: garden hose
    must_include: [hose]
  - query: deposit
`})
	opts := &EvalOptions{
		RootOptions: &RootOptions{Format: "text"},
		RunIDs:      testutil.NewFixedRunIDGenerator("only"),
	}

	out, err := execute(t, newEvalCommand(opts), filepath.Join(root, "suites", "fail_first.yaml"), "--root", root, "--stop-on-fail")
	require.Error(t, err)
	assert.Contains(t, out, "ordered: 0/1 passed")
}
