package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecute_GC_DryRun(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	seedMemory(t, dbPath, "a stale scratch note")

	defer setArgs("memorypilot", "gc", "--dry-run")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(gc): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "GC (dry run)") {
		t.Errorf("expected dry-run label in output: %q", out)
	}
}

func TestExecute_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	seedMemory(t, dbPath, "a memory that will not expire")

	defer setArgs("memorypilot", "cleanup")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(cleanup): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "expired memory") {
		t.Errorf("expected cleanup summary in output: %q", out)
	}
}
