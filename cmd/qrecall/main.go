// Command qrecall runs CUE-declared retrieval pipelines over local documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/qrecall/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qrecall: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
