package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/roach88/qrecall/internal/testutil"
)

const leaseRecipe = `
recipe: lease: {
	description: "Lease questions"
	pipeline: {
		op: "sequence"
		steps: [
			{op: "lang_norm"},
			{op: "term_extract"},
			{op: "grep", dir: "docs"},
			{op: "rank", k: 5},
			{op: "concat"},
			{op: "answer"},
		]
	}
}
`

// workspace creates a docs tree and a recipe file, returning the root and
// the recipe path.
func workspace(t *testing.T) (root, recipePath string) {
	t.Helper()
	root = testutil.TempTree(t, map[string]string{
		"docs/lease.md":     "# Lease\nThe deposit is returned within 30 days.\nPets are allowed.\n",
		"docs/parking.md":   "Parking is free on weekends.\n",
		"recipes/lease.cue": leaseRecipe,
	})
	return root, filepath.Join(root, "recipes", "lease.cue")
}

// execute runs cmd with args and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
