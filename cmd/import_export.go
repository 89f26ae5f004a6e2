package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [format] [output]",
	Short: "Export all memories",
	Long: `Export all memories to a file.

Supported formats:
  json      - JSON format (default)
  markdown  - Markdown format

If no output path is given, a default filename is generated.

Examples:
  memorypilot export
  memorypilot export json memories.json
  memorypilot export markdown memories.md`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, output := "json", ""
		if len(args) >= 1 {
			format = args[0]
		}
		if len(args) >= 2 {
			output = args[1]
		}
		return runExport(format, output)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <v1-export-dir>",
	Short: "Import a legacy v1 export",
	Long: `Import a legacy v1 export directory (global.json plus
projects/*.json) into the current store, remapping v1 kinds to their
current equivalents.

Examples:
  memorypilot migrate ~/.memory-pilot-v1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runMigrate(args[0]) },
}

func runExport(format, output string) error {
	if format != "json" && format != "markdown" && format != "md" {
		return fmt.Errorf("unknown format: %s (supported: json, markdown)", format)
	}

	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	data, err := server.Store().ExportMemories(context.Background(), nil, format)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if output == "" {
		timestamp := time.Now().Format("2006-01-02")
		ext := format
		if format == "markdown" {
			ext = "md"
		}
		output = fmt.Sprintf("memorypilot-export-%s.%s", timestamp, ext)
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Exported memories to %s\n", output)
	return nil
}

func runMigrate(dir string) error {
	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	imported, skipped, err := server.Store().MigrateFromV1(context.Background(), dir)
	if err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	fmt.Printf("Migrated %d memory/memories, skipped %d\n", imported, skipped)
	return nil
}
