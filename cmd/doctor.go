package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues and optionally fix them.

Examples:
  memorypilot doctor        # check for issues
  memorypilot doctor --fix  # check and auto-fix issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		return runDoctor(fix)
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Attempt to automatically fix issues")
}

// redact returns the first n and last n chars of s, or "***" if too short.
func redact(s string, n int) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= n*2 {
		return "***"
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// runDoctor diagnoses common setup issues.
func runDoctor(fix bool) error {
	fmt.Println("🔍 MemoryPilot Doctor - Diagnosing Setup")
	if fix {
		fmt.Println("🛠️  Auto-fix enabled")
	}
	fmt.Println()

	issues := 0
	warnings := 0
	fixed := 0

	fmt.Print("✓ Checking if memorypilot is in PATH... ")
	path, err := exec.LookPath("memorypilot")
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Println("  Issue: memorypilot binary not found in PATH")
		fmt.Println("  Fix: Add memorypilot to your PATH or use the full path")
		issues++
	} else {
		fmt.Printf("✅ OK (%s)\n", path)
	}

	fmt.Print("✓ Checking binary permissions... ")
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Println("❌ FAILED")
			fmt.Printf("  Issue: Cannot stat binary: %v\n", err)
			issues++
		} else if info.Mode()&0111 == 0 {
			if fix {
				fmt.Print("🛠️  Fixing... ")
				if err := os.Chmod(path, info.Mode()|0111); err != nil {
					fmt.Printf("❌ FAILED: %v\n", err)
					issues++
				} else {
					fmt.Println("✅ FIXED")
					fixed++
				}
			} else {
				fmt.Println("❌ FAILED")
				fmt.Println("  Issue: Binary is not executable")
				fmt.Printf("  Fix: Run 'chmod +x %s'\n", path)
				issues++
			}
		} else {
			fmt.Println("✅ OK")
		}
	}

	fmt.Print("✓ Checking data directory... ")
	dataDir := os.Getenv("MEMORYPILOT_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".memory-pilot")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Creating... ")
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Printf("  Data directory does not exist: %s\n", dataDir)
			fmt.Println("  It will be created on first run")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", dataDir)
	}

	fmt.Print("✓ Checking SQLite database... ")
	dbPath := filepath.Join(dataDir, "memory.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Database not found: %s\n", dbPath)
		fmt.Println("  It will be created on first run")
		warnings++
	} else {
		fmt.Println("✅ OK")
	}

	fmt.Print("✓ Testing MCP server startup... ")
	testCmd := exec.Command("memorypilot", "version")
	if err := testCmd.Run(); err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: Cannot run memorypilot: %v\n", err)
		issues++
	} else {
		fmt.Println("✅ OK")
	}

	fmt.Print("✓ Checking environment... ")
	if runtime.GOOS == "darwin" {
		if runtime.GOARCH == "arm64" {
			fmt.Println("✅ OK (Apple Silicon native)")
		} else {
			fmt.Println("⚠️  WARNING (Running under Rosetta)")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s/%s)\n", runtime.GOOS, runtime.GOARCH)
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! MemoryPilot is ready to use.")
	} else {
		if fixed > 0 {
			fmt.Printf("🛠️  Auto-fixed %d issue(s)\n", fixed)
		}
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
		fmt.Println()
		fmt.Println("Run the suggested fixes above to resolve issues.")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}
