// Command kiln plans incremental builds of a unit dependency graph.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/kiln/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
