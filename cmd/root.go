package cmd

import (
	"github.com/spf13/cobra"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "memorypilot",
	Short: "MemoryPilot - persistent memory for AI coding assistants",
	Long:  "MemoryPilot - local-first memory for AI coding assistants via the Model Context Protocol.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the memorypilot command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// export, migrate (defined in import_export.go)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)

	// gc, cleanup (defined in gc.go)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(cleanupCmd)

	// audit, doctor (defined in audit.go, doctor.go)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(doctorCmd)
}
