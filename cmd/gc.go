package cmd

import (
	"context"
	"fmt"

	"github.com/Soflution1/memory-pilot/internal/memory"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect stale memories",
	Long: `Score eligible memories for staleness, merge clusters of three or
more stale memories sharing a project and kind into a single summary,
delete the rest, and sweep orphaned entities and links.

Examples:
  memorypilot gc
  memorypilot gc --dry-run
  memorypilot gc --age-days 60 --importance-max 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		ageDays, _ := cmd.Flags().GetInt("age-days")
		importanceMax, _ := cmd.Flags().GetInt("importance-max")
		return runGC(dryRun, ageDays, importanceMax)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete memories whose TTL has passed",
	Long: `Delete every memory whose expires_at has already passed.

Examples:
  memorypilot cleanup`,
	RunE: func(cmd *cobra.Command, args []string) error { return runCleanup() },
}

func init() {
	gcCmd.Flags().Bool("dry-run", false, "Report what would happen without modifying the store")
	gcCmd.Flags().Int("age-days", 0, "Age threshold in days (default 30)")
	gcCmd.Flags().Int("importance-max", 0, "Only consider memories at or below this importance (default 3)")
}

func runGC(dryRun bool, ageDays, importanceMax int) error {
	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	ctx := context.Background()
	report, err := server.Store().RunGC(ctx, memory.GCConfig{AgeDays: ageDays, ImportanceMax: importanceMax}, dryRun)
	if err != nil {
		return fmt.Errorf("gc failed: %w", err)
	}

	label := "GC"
	if dryRun {
		label = "GC (dry run)"
	}
	fmt.Printf("%s: %d candidate(s), %d merged, %d deleted, %d orphan row(s) swept\n",
		label, report.CandidatesFound, report.Merged, report.Deleted, report.OrphansRemoved)
	if report.Vacuumed {
		fmt.Println("Database vacuumed.")
	}
	return nil
}

func runCleanup() error {
	server, err := newServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	n, err := server.Store().CleanupExpired(context.Background())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Deleted %d expired memory/memories.\n", n)
	return nil
}
