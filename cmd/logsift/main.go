// logsift mines log templates from uploaded files and serves semantic
// search over them via HTTP, MCP or the command line.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/logsift/cmd/logsift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
