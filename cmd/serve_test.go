package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecute_Version(t *testing.T) {
	defer setArgs("memorypilot", "version")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(version): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Error("version should print to stdout")
	}
	if !strings.Contains(out, "memorypilot") {
		t.Errorf("version output should contain 'memorypilot': %q", out)
	}
}

func TestExecute_Status(t *testing.T) {
	tmpDir := t.TempDir()
	orig := os.Getenv("MEMORYPILOT_DB_PATH")
	os.Setenv("MEMORYPILOT_DB_PATH", filepath.Join(tmpDir, "memory.db"))
	defer func() {
		os.Setenv("MEMORYPILOT_DB_PATH", orig)
	}()

	defer setArgs("memorypilot", "status")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(status): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "MemoryPilot Memory Status") {
		t.Errorf("status output: %q", out)
	}
}
