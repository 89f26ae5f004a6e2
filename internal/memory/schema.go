package memory

import (
	"database/sql"
	"fmt"
)

// initSchema creates every table and virtual table spec.md §6 names, plus
// the term_doc_freq table that backs the embedding engine's corpus-level
// IDF statistics (not itself part of the authoritative schema, but required
// to implement it — updated transactionally alongside every write, exactly
// as spec.md §4.1/§4.3 require).
func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			project TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			source TEXT NOT NULL DEFAULT 'cli',
			importance INTEGER NOT NULL DEFAULT 3,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			expires_at TEXT,
			last_accessed_at TEXT,
			access_count INTEGER NOT NULL DEFAULT 0,
			embedding BLOB,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content, tags, kind, project,
			content='memories', content_rowid='rowid'
		)`,

		`CREATE TABLE IF NOT EXISTS memory_entities (
			memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			entity_kind TEXT NOT NULL,
			entity_value TEXT NOT NULL,
			UNIQUE(memory_id, entity_kind, entity_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_value ON memory_entities(entity_value)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id)`,

		`CREATE TABLE IF NOT EXISTS memory_links (
			source_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL DEFAULT 'relates_to',
			created_at TEXT NOT NULL,
			PRIMARY KEY (source_id, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id)`,

		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			path TEXT NOT NULL DEFAULT '',
			description TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS term_doc_freq (
			term TEXT PRIMARY KEY,
			df INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content, tags, kind, project)
			VALUES (new.rowid, new.content, new.tags, new.kind, coalesce(new.project, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content, tags, kind, project)
			VALUES ('delete', old.rowid, old.content, old.tags, old.kind, coalesce(old.project, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content, tags, kind, project)
			VALUES ('delete', old.rowid, old.content, old.tags, old.kind, coalesce(old.project, ''));
			INSERT INTO memories_fts(rowid, content, tags, kind, project)
			VALUES (new.rowid, new.content, new.tags, new.kind, coalesce(new.project, ''));
		END`,
	}
	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("schema trigger: %w", err)
		}
	}

	return runMigrations(db)
}

// runMigrations applies additive, idempotent schema bumps and records the
// resulting schema_version in config, per spec.md §6 "Schema upgrades".
func runMigrations(db *sql.DB) error {
	const currentVersion = "1"
	var existing string
	err := db.QueryRow(`SELECT value FROM config WHERE key = 'schema_version'`).Scan(&existing)
	if err == nil && existing == currentVersion {
		return nil
	}
	_, err = db.Exec(
		`INSERT INTO config (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentVersion,
	)
	if err != nil {
		return fmt.Errorf("write schema_version: %w", err)
	}
	return nil
}
