// Package config loads MemoryPilot's runtime configuration from the
// environment, following the env-var-with-fallback idiom used throughout
// the retrieved example pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the tunables for a MemoryPilot process. Only DBPath is read
// by the rest of the program (cmd/serve.go); the other fields are loaded
// and validated but nothing consumes them, so search limits, GC defaults
// and watcher settings come from internal/memory's own constants and
// per-call arguments, not from these variables.
type Config struct {
	DBPath              string
	GlobalPromptPath    string
	DefaultSearchLimit  int
	MaxSearchLimit      int
	GCAgeDays           int
	GCImportanceMax     int
	WatcherDebounceMS   int
	WatcherRingCapacity int
}

// Load reads configuration from the environment, applying the defaults
// MemoryPilot ships with when a variable is unset or malformed.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultDB := filepath.Join(home, ".memory-pilot", "memory.db")
	defaultPrompt := filepath.Join(home, ".memory-pilot", "GLOBAL_PROMPT.md")

	cfg := &Config{
		DBPath:              envStr("MEMORYPILOT_DB_PATH", defaultDB),
		GlobalPromptPath:    envStr("MEMORYPILOT_GLOBAL_PROMPT", defaultPrompt),
		DefaultSearchLimit:  envInt("MEMORYPILOT_SEARCH_LIMIT", 10),
		MaxSearchLimit:      envInt("MEMORYPILOT_SEARCH_LIMIT_MAX", 100),
		GCAgeDays:           envInt("MEMORYPILOT_GC_AGE_DAYS", 30),
		GCImportanceMax:     envInt("MEMORYPILOT_GC_IMPORTANCE_MAX", 3),
		WatcherDebounceMS:   envInt("MEMORYPILOT_WATCHER_DEBOUNCE_MS", 500),
		WatcherRingCapacity: envInt("MEMORYPILOT_WATCHER_RING", 20),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.DefaultSearchLimit < 1 || c.DefaultSearchLimit > c.MaxSearchLimit {
		return fmt.Errorf("default search limit %d must be between 1 and %d", c.DefaultSearchLimit, c.MaxSearchLimit)
	}
	if c.GCAgeDays < 1 {
		return fmt.Errorf("gc age days must be positive, got %d", c.GCAgeDays)
	}
	if c.WatcherRingCapacity < 1 {
		return fmt.Errorf("watcher ring capacity must be positive, got %d", c.WatcherRingCapacity)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
