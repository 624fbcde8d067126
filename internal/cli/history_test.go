package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// savedRuns runs the lease recipe once per query and saves each run to
// historyPath. Run IDs are "run-1", "run-2", ...
func savedRuns(t *testing.T, historyPath string, queries ...string) {
	t.Helper()
	root, recipePath := workspace(t)
	for i, q := range queries {
		opts := newRun("text", "run-"+string(rune('1'+i)))
		_, err := execute(t, newRunCommand(opts), recipePath, "--root", root, "--history", historyPath, "--save", q)
		require.NoError(t, err)
	}
}

func TestHistory_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	savedRuns(t, dbPath, "deposit", "parking")

	out, err := execute(t, NewHistoryCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Data []HistoryRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	// Same fake timestamp, so ties break on run ID.
	assert.Equal(t, "run-1", resp.Data[0].ID)
	assert.Equal(t, "run-2", resp.Data[1].ID)
	assert.True(t, resp.Data[0].Answered)
}

func TestHistory_JSONLText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	savedRuns(t, path, "deposit")

	out, err := execute(t, NewHistoryCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "deposit")
}

func TestHistory_OpCounts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	savedRuns(t, dbPath, "deposit")

	out, err := execute(t, NewHistoryCommand(&RootOptions{Format: "json"}), "--db", dbPath, "--ops")
	require.NoError(t, err)

	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data["answer"])
	assert.Equal(t, 6, resp.Data["time"])
}

func TestHistory_OpCountsNeedSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	savedRuns(t, path, "deposit")

	_, err := execute(t, NewHistoryCommand(&RootOptions{Format: "text"}), "--db", path, "--ops")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_MissingFile(t *testing.T) {
	_, err := execute(t, NewHistoryCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_Text(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	savedRuns(t, dbPath, "deposit")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--run", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for run: run-1")
	assert.Contains(t, out, "lang_norm")
	assert.Contains(t, out, "time_overall")
}

func TestTrace_OpFilterJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	savedRuns(t, path, "deposit")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "--db", path, "--run", "run-1", "--op", "grep")
	require.NoError(t, err)

	var resp struct {
		RunID string      `json:"run_id"`
		Data  TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "grep", resp.Data.Timeline[0].Op)
	assert.Equal(t, 1, resp.Data.Stats.ByOp["grep"])
}

func TestTrace_HTMLFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	savedRuns(t, dbPath, "deposit")
	htmlPath := filepath.Join(t.TempDir(), "trace.html")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--run", "run-1", "--html", htmlPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+htmlPath)

	data, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<html")
	assert.Contains(t, string(data), "Run run-1")
}

func TestTrace_UnknownRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	savedRuns(t, dbPath, "deposit")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--run", "nope")
	require.NoError(t, err)
	assert.Contains(t, out, "No events found for run: nope")
}

func TestTrace_RequiredFlags(t *testing.T) {
	_, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
