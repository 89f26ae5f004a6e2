package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Soflution1/memory-pilot/internal/config"
	"github.com/Soflution1/memory-pilot/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an MCP client such as Claude Code, Cursor, etc.

Examples:
  memorypilot serve
  memorypilot mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("memorypilot %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory statistics",
	Long: `Show current memory statistics including total memories,
database size, and memory counts by kind.

Examples:
  memorypilot status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func newServer() (*mcp.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	mcp.Version = Version
	return mcp.NewServer(cfg.DBPath)
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "MemoryPilot - persistent memory for AI coding assistants")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "It is not an interactive CLI — connect an MCP client (Claude Code, Cursor, etc.).")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'memorypilot help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	return server.Start()
}

func runStatus() error {
	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	stats, err := server.Store().Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	fmt.Printf("MemoryPilot Memory Status:\n")
	for k, v := range stats {
		fmt.Printf("  %s: %v\n", k, v)
	}
	return nil
}
