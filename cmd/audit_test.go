package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Soflution1/memory-pilot/internal/memory"
)

func TestRunAudit_EmptyDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("MEMORYPILOT_DATA_DIR", tmpDir)
	defer os.Unsetenv("MEMORYPILOT_DATA_DIR")

	out, err := captureStdout(func() {
		if e := runAudit(); e != nil {
			t.Fatalf("runAudit: %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Privacy Audit") {
		t.Errorf("expected audit header in output: %q", out)
	}
	if !strings.Contains(out, "Data Inventory") {
		t.Errorf("expected Data Inventory section: %q", out)
	}
}

func TestRunAudit_WithMemories(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("MEMORYPILOT_DATA_DIR", tmpDir)
	defer os.Unsetenv("MEMORYPILOT_DATA_DIR")

	store, err := memory.Open(filepath.Join(tmpDir, "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Add(ctx, memory.AddInput{Content: "audit test memory", Kind: "note", Tags: []string{"audit"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	store.Close()

	out, capErr := captureStdout(func() {
		if e := runAudit(); e != nil {
			t.Fatalf("runAudit: %v", e)
		}
	})
	if capErr != nil {
		t.Fatal(capErr)
	}

	if !strings.Contains(out, "row(s)") {
		t.Errorf("expected row counts in output: %q", out)
	}
	if !strings.Contains(out, "memory.db") {
		t.Errorf("expected memory.db in data inventory: %q", out)
	}
	if !strings.Contains(out, "Memory Breakdown") {
		t.Errorf("expected memory breakdown section: %q", out)
	}
	if !strings.Contains(out, "note") {
		t.Errorf("expected by-kind breakdown to list note: %q", out)
	}
	if !strings.Contains(out, "Knowledge graph") {
		t.Errorf("expected knowledge graph density line: %q", out)
	}
}

func TestExecute_Audit(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("MEMORYPILOT_DATA_DIR", tmpDir)
	defer os.Unsetenv("MEMORYPILOT_DATA_DIR")

	defer setArgs("memorypilot", "audit")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(audit): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Privacy Audit") {
		t.Errorf("expected audit output: %q", out)
	}
}
