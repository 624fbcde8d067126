package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/testutil"
)

func TestGlob_MatchesFiles(t *testing.T) {
	root := testutil.TempTree(t, map[string]string{
		"a.md":        "x",
		"sub/b.md":    "y",
		"sub/c.txt":   "z",
		"deep/x/d.md": "w",
	})
	g, err := NewGlob(root, "**/*.md")
	require.NoError(t, err)

	out, err := g.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	require.Len(t, out.Candidates, 3)
	for _, c := range out.Candidates {
		assert.Greater(t, c.Score, 0.2)
		assert.Less(t, c.Score, 0.21)
		assert.False(t, c.HasSnippet())
		assert.Contains(t, c.Meta, "mtime")
	}
	assert.Equal(t, "glob", out.Trace[0].Op)
	assert.Equal(t, 3, out.Trace[0].Payload["files"])
}

func TestGlob_DefaultPatternSkipsDirectories(t *testing.T) {
	root := testutil.TempTree(t, map[string]string{"sub/a.txt": "x"})
	g, err := NewGlob(root, "")
	require.NoError(t, err)

	out, err := g.Apply(context.Background(), pipeline.NewState("q"))

	require.NoError(t, err)
	assert.Len(t, out.Candidates, 1)
}

func TestNewGlob_InvalidPattern(t *testing.T) {
	_, err := NewGlob(".", "[")
	assert.True(t, pipeline.IsConfigError(err))
}
