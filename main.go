// MemoryPilot - persistent memory for AI coding assistants
// Local-first memory layer exposed over the Model Context Protocol
package main

import (
	"fmt"
	"os"

	"github.com/Soflution1/memory-pilot/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
