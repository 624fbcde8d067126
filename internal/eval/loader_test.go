package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSuite(t *testing.T) {
	suite, err := LoadSuite("testdata/suites/lease.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lease-docs", suite.Name)
	assert.Equal(t, filepath.Join("testdata", "recipes", "lease.cue"), suite.Recipe)
	require.Len(t, suite.Cases, 2)

	c := suite.Cases[0]
	assert.Equal(t, "renewal", c.Name)
	assert.Equal(t, []string{"renewal"}, c.MustInclude)
	assert.Equal(t, []string{"lease.md"}, c.MustHitFiles)
	assert.Equal(t, []string{"docs/lease.md"}, c.Relevant)
	require.Len(t, c.Assertions, 2)
	assert.Equal(t, []string{"grep", "answer"}, c.Assertions[0].Ops)
	assert.Equal(t, map[string]any{"ok": true}, c.Assertions[1].Payload)

	assert.Equal(t, "pet policy", suite.Cases[1].Label())
}

func TestParseSuite_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\ncase: []\n", "failed to parse YAML"},
		{"missing name", "cases:\n  - query: q\n", "name is required"},
		{"no cases", "name: x\n", "cases list is required"},
		{"missing query", "name: x\ncases:\n  - name: c\n", "cases[0]: query is required"},
		{"bad assertion", "name: x\ncases:\n  - query: q\n    assertions:\n      - type: trace_count\n", "cases[0].assertions[0]: op is required"},
		{"unknown assertion", "name: x\ncases:\n  - query: q\n    assertions:\n      - type: final_state\n", "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSuite_MissingFile(t *testing.T) {
	_, err := LoadSuite(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
