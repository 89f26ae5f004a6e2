package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Soflution1/memory-pilot/internal/memory"
)

func seedMemory(t *testing.T, dbPath, content string) {
	t.Helper()
	store, err := memory.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := store.Add(context.Background(), memory.AddInput{Content: content, Kind: "note"}); err != nil {
		t.Fatalf("seed memory: %v", err)
	}
}

func TestExecute_Export(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	defer setArgs("memorypilot", "export", "json", filepath.Join(tmpDir, "out.json"))()
	err := Execute()
	if err != nil {
		t.Fatalf("Execute(export): %v", err)
	}
}

func TestExecute_Export_WithMemories_Json(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	seedMemory(t, dbPath, "export test memory content")

	outPath := filepath.Join(tmpDir, "export.json")
	defer setArgs("memorypilot", "export", "json", outPath)()
	if err := Execute(); err != nil {
		t.Fatalf("Execute(export json): %v", err)
	}
	if _, err := os.Stat(outPath); os.IsNotExist(err) {
		t.Error("expected export file to be created")
	}
}

func TestExecute_Export_Markdown_WithMemories(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	seedMemory(t, dbPath, "export markdown test content")

	outPath := filepath.Join(tmpDir, "out.md")
	defer setArgs("memorypilot", "export", "markdown", outPath)()
	if err := Execute(); err != nil {
		t.Fatalf("Execute(export markdown): %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "MemoryPilot export") || !strings.Contains(string(data), "export markdown test content") {
		t.Errorf("expected markdown content: %q", string(data))
	}
}

func TestExecute_Export_UnknownFormat(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("MEMORYPILOT_DB_PATH", filepath.Join(tmpDir, "memory.db"))
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	defer setArgs("memorypilot", "export", "csv")()
	err := Execute()
	if err == nil {
		t.Error("Execute(export csv) should fail with unknown format")
	}
	if err != nil && !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got: %v", err)
	}
}

func TestExecute_Export_DefaultOutput(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memory.db")
	os.Setenv("MEMORYPILOT_DB_PATH", dbPath)
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	outputDir := t.TempDir()
	if err := os.Chdir(outputDir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(origDir)

	seedMemory(t, dbPath, "export default output test")

	defer setArgs("memorypilot", "export", "json")()
	if err := Execute(); err != nil {
		t.Fatalf("Execute(export json): %v", err)
	}
}

func TestExecute_Migrate_MissingDir(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("MEMORYPILOT_DB_PATH", filepath.Join(tmpDir, "memory.db"))
	defer os.Unsetenv("MEMORYPILOT_DB_PATH")

	defer setArgs("memorypilot", "migrate", filepath.Join(tmpDir, "does-not-exist"))()
	// A missing v1 directory yields zero imports, not an error.
	if err := Execute(); err != nil {
		t.Fatalf("Execute(migrate): %v", err)
	}
}
