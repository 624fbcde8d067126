package eval

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/recipe"
	"github.com/roach88/qrecall/internal/testutil"
)

func TestSuite_AgainstLeaseRecipe(t *testing.T) {
	suite, err := LoadSuite(filepath.Join("testdata", "suites", "lease.yaml"))
	require.NoError(t, err)

	recipes, err := recipe.LoadFile(suite.Recipe)
	require.NoError(t, err)
	r, err := recipe.Find(recipes, "lease")
	require.NoError(t, err)

	compiler, err := recipe.NewCompiler(recipe.WithRoot("testdata"), recipe.WithClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	op, err := compiler.Compile(r)
	require.NoError(t, err)

	results, err := suite.Run(context.Background(), op, WithRunIDs(pipeline.NewFixedGenerator("lease-1", "lease-2")))
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		assert.True(t, res.Passed, "%s: %v %v", res.Case.Label(), res.Failures, res.Err)
	}
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 1.0, results[0].Score.Recall, 1e-9)

	var buf bytes.Buffer
	sum := suite.Report(&buf, results)
	assert.Equal(t, 2, sum.Passed)
	assert.Contains(t, buf.String(), "lease-docs: 2/2 passed")
}
