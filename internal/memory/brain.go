package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

// brainCharBudget approximates spec.md §4.7's ~1500-token (~6KB) aggregate
// budget for a project brain document, at roughly four characters per
// token.
const brainCharBudget = 1500 * 4

// ProjectBrainDoc is the bounded-size aggregate MemoryPilot hands an
// assistant so it can orient itself in a project without a fresh search.
type ProjectBrainDoc struct {
	Project                string   `json:"project,omitempty"`
	TechStack              []string `json:"tech_stack"`
	CoreArchitecture       []string `json:"core_architecture"`
	ActiveBugs             []string `json:"active_bugs"`
	RecentChanges          []string `json:"recent_changes"`
	PreferencesAndPatterns []string `json:"preferences_and_patterns"`
	KeyComponents          []string `json:"key_components"`
}

// ProjectBrain aggregates a bounded-size snapshot of a project's
// knowledge: its detected tech stack, architectural decisions, open bugs,
// recent changes, preferences/patterns, and key components, per spec.md
// §4.7's per-field caps. project == nil aggregates across every memory
// with no project (the global scope).
func (s *Store) ProjectBrain(ctx context.Context, project *string) (ProjectBrainDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := ProjectBrainDoc{}
	if project != nil {
		doc.Project = *project
	}

	techStack, err := s.distinctEntityValues(ctx, project, "tech", 30)
	if err != nil {
		return doc, err
	}
	doc.TechStack = techStack

	arch, err := s.fieldSnippets(ctx, project, `kind = 'decision' AND importance >= 3 AND tags LIKE '%architecture%'`, "updated_at DESC", 10)
	if err != nil {
		return doc, err
	}
	doc.CoreArchitecture = arch

	bugs, err := s.fieldSnippets(ctx, project, `kind = 'bug'`, "importance DESC, updated_at DESC", 5)
	if err != nil {
		return doc, err
	}
	doc.ActiveBugs = bugs

	recent, err := s.fieldSnippets(ctx, project,
		fmt.Sprintf(`updated_at >= '%s'`, formatTime(s.now().Add(-7*24*time.Hour))),
		"updated_at DESC", 10)
	if err != nil {
		return doc, err
	}
	doc.RecentChanges = recent

	prefs, err := s.projectOrGlobalSnippets(ctx, project, `kind IN ('preference', 'pattern') AND importance >= 3`, "importance DESC, updated_at DESC", 10)
	if err != nil {
		return doc, err
	}
	doc.PreferencesAndPatterns = prefs

	components, err := s.distinctEntityValues(ctx, project, "component", 15)
	if err != nil {
		return doc, err
	}
	doc.KeyComponents = components

	applyBrainBudget(&doc)
	return doc, nil
}

func (s *Store) distinctEntityValues(ctx context.Context, project *string, kind string, limit int) ([]string, error) {
	var rows *sql.Rows
	var err error
	if project != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT me.entity_value FROM memory_entities me
			 JOIN memories m ON m.id = me.memory_id
			 WHERE me.entity_kind = ? AND m.project = ? ORDER BY me.entity_value LIMIT ?`,
			kind, *project, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT me.entity_value FROM memory_entities me
			 JOIN memories m ON m.id = me.memory_id
			 WHERE me.entity_kind = ? AND m.project IS NULL ORDER BY me.entity_value LIMIT ?`,
			kind, limit)
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "entity values", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err == nil {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func (s *Store) fieldSnippets(ctx context.Context, project *string, cond, order string, limit int) ([]string, error) {
	where := "(" + cond + ")"
	var args []any
	if project != nil {
		where += " AND project = ?"
		args = append(args, *project)
	} else {
		where += " AND project IS NULL"
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM memories WHERE `+where+` ORDER BY `+order+` LIMIT ?`, args...)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "brain field query", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err == nil {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// projectOrGlobalSnippets is like fieldSnippets but, when project is set,
// includes memories scoped to that project *or* scoped globally (no
// project), per spec.md §4.7's preferences-and-patterns contract: a
// project's brain should surface both its own preferences and the
// operator's global ones.
func (s *Store) projectOrGlobalSnippets(ctx context.Context, project *string, cond, order string, limit int) ([]string, error) {
	where := "(" + cond + ")"
	var args []any
	if project != nil {
		where += " AND (project = ? OR project IS NULL)"
		args = append(args, *project)
	} else {
		where += " AND project IS NULL"
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM memories WHERE `+where+` ORDER BY `+order+` LIMIT ?`, args...)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "brain field query", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err == nil {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// applyBrainBudget caps the snippet fields' combined character usage at
// brainCharBudget (less the tech-stack and component names). The budget is
// spent in field order (core_architecture, active_bugs, recent_changes,
// preferences_and_patterns): the entry that crosses the limit is cut with
// an ellipsis marker by truncateRunes and every later entry is dropped.
func applyBrainBudget(doc *ProjectBrainDoc) {
	fields := [][]string{doc.CoreArchitecture, doc.ActiveBugs, doc.RecentChanges, doc.PreferencesAndPatterns}
	budget := brainCharBudget
	for _, f := range [][]string{doc.TechStack, doc.KeyComponents} {
		for _, v := range f {
			budget -= len(v)
		}
	}
	for i := range fields {
		for j, v := range fields[i] {
			if budget <= 0 {
				fields[i][j] = ""
				continue
			}
			if len(v) > budget {
				fields[i][j] = truncateRunes(v, budget)
				budget = 0
			} else {
				budget -= len(v)
			}
		}
	}
	doc.CoreArchitecture = filterEmpty(fields[0])
	doc.ActiveBugs = filterEmpty(fields[1])
	doc.RecentChanges = filterEmpty(fields[2])
	doc.PreferencesAndPatterns = filterEmpty(fields[3])
}

func filterEmpty(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetProjectContext returns the same aggregate as ProjectBrain, resolving
// the project from a working directory first.
func (s *Store) GetProjectContext(ctx context.Context, workingDir string) (ProjectBrainDoc, error) {
	project, err := s.DetectProject(ctx, workingDir)
	if err != nil {
		return ProjectBrainDoc{}, err
	}
	return s.ProjectBrain(ctx, project)
}

// GetFileContext returns memories whose content or extracted entities
// reference filePath or its base name, most recently updated first.
func (s *Store) GetFileContext(ctx context.Context, filePath string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	base := strings.ToLower(filepath.Base(filePath))
	lowerPath := strings.ToLower(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m.id, m.content, m.kind, m.project, m.tags, m.source, m.importance,
			m.created_at, m.updated_at, m.expires_at, m.last_accessed_at, m.access_count, m.metadata
		 FROM memories m
		 LEFT JOIN memory_entities me ON me.memory_id = m.id AND me.entity_kind = 'file'
		 WHERE me.entity_value = ? OR me.entity_value = ? OR m.content LIKE ?
		 ORDER BY m.updated_at DESC LIMIT ?`,
		base, lowerPath, "%"+base+"%", limit,
	)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "file context query", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, memerr.Wrap(memerr.Storage, "scan file context row", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// RecallDoc is the composed payload returned by Recall: a project brain, a
// short list of critical memories, the ambient global prompt, and basic
// stats, bundled for a fresh assistant session.
type RecallDoc struct {
	Project     string           `json:"project,omitempty"`
	Brain       ProjectBrainDoc  `json:"project_brain"`
	Critical    []Memory         `json:"critical_memories"`
	Hints       []SearchResult   `json:"hinted_memories,omitempty"`
	GlobalPrompt string          `json:"global_prompt,omitempty"`
	Stats       map[string]any   `json:"stats"`
}

// Recall composes MemoryPilot's single "catch me up" call: it detects the
// project from workingDir, pulls the project brain, the highest-importance
// memories, search results for hint (boosted by the working directory's
// file watcher), the global prompt, and summary stats.
func (s *Store) Recall(ctx context.Context, workingDir string, hint string) (RecallDoc, error) {
	project, err := s.DetectProject(ctx, workingDir)
	if err != nil {
		return RecallDoc{}, err
	}
	brain, err := s.ProjectBrain(ctx, project)
	if err != nil {
		return RecallDoc{}, err
	}

	s.mu.Lock()
	critRows, err := s.db.QueryContext(ctx, scanColumns+criticalWhere(project)+` ORDER BY importance DESC, updated_at DESC LIMIT 10`, criticalArgs(project)...)
	var critical []Memory
	if err == nil {
		for critRows.Next() {
			m, scanErr := scanMemory(critRows)
			if scanErr == nil {
				critical = append(critical, *m)
			}
		}
		critRows.Close()
	}
	s.mu.Unlock()
	if err != nil {
		return RecallDoc{}, memerr.Wrap(memerr.Storage, "critical memories", err)
	}

	doc := RecallDoc{Brain: brain, Critical: critical}
	if project != nil {
		doc.Project = *project
	}

	if strings.TrimSpace(hint) != "" {
		filters := SearchFilters{Project: project, WorkingDir: workingDir}
		hints, err := s.Search(ctx, hint, 5, filters)
		if err == nil {
			doc.Hints = hints
		}
	}

	doc.GlobalPrompt, _ = s.GetGlobalPrompt(ctx, workingDir)

	stats, err := s.Stats(ctx)
	if err == nil {
		doc.Stats = stats
	}
	return doc, nil
}

func criticalWhere(project *string) string {
	if project != nil {
		return ` FROM memories WHERE importance >= 4 AND project = ?`
	}
	return ` FROM memories WHERE importance >= 4 AND project IS NULL`
}

func criticalArgs(project *string) []any {
	if project != nil {
		return []any{*project}
	}
	return nil
}

var globalPromptCache struct {
	mu      sync.Mutex
	path    string
	modTime time.Time
	content string
}

// GetGlobalPrompt resolves the global prompt's content following a
// three-tier fallback: an explicitly configured path, the user-level
// default, then GLOBAL_PROMPT.md in workingDir; the first existing file
// wins and an empty string is returned when none exists. The last successful read
// is cached by path and mtime so repeated recall calls don't re-read the
// file from disk every time.
func (s *Store) GetGlobalPrompt(ctx context.Context, workingDir string) (string, error) {
	candidates := s.globalPromptCandidates(ctx, workingDir)
	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		globalPromptCache.mu.Lock()
		if globalPromptCache.path == path && globalPromptCache.modTime.Equal(info.ModTime()) {
			content := globalPromptCache.content
			globalPromptCache.mu.Unlock()
			return content, nil
		}
		globalPromptCache.mu.Unlock()

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		globalPromptCache.mu.Lock()
		globalPromptCache.path = path
		globalPromptCache.modTime = info.ModTime()
		globalPromptCache.content = string(data)
		globalPromptCache.mu.Unlock()
		return string(data), nil
	}
	return "", nil
}

func (s *Store) globalPromptCandidates(ctx context.Context, workingDir string) []string {
	var out []string
	if configured, ok := s.GetConfig(ctx, "global_prompt_path"); ok {
		out = append(out, configured)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".memory-pilot", "GLOBAL_PROMPT.md"))
	}
	if workingDir != "" {
		out = append(out, filepath.Join(workingDir, "GLOBAL_PROMPT.md"))
	}
	return out
}

// ExportMemories serializes every memory (optionally scoped to a project)
// as either a JSON array or a star-rated Markdown document.
func (s *Store) ExportMemories(ctx context.Context, project *string, format string) ([]byte, error) {
	page, err := s.List(ctx, ListFilters{Project: project, IncludeExpired: true}, 1_000_000, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(page.Memories, func(i, j int) bool { return page.Memories[i].CreatedAt.Before(page.Memories[j].CreatedAt) })

	if format == "markdown" || format == "md" {
		var b strings.Builder
		b.WriteString("# MemoryPilot export\n\n")
		for _, m := range page.Memories {
			b.WriteString(fmt.Sprintf("## %s %s\n\n", strings.Repeat("*", m.Importance), m.Kind))
			if m.Project != nil {
				b.WriteString(fmt.Sprintf("_project: %s_\n\n", *m.Project))
			}
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
		return []byte(b.String()), nil
	}

	data, err := json.MarshalIndent(page.Memories, "", "  ")
	if err != nil {
		return nil, memerr.Wrap(memerr.Internal, "marshal export", err)
	}
	return data, nil
}

// v1GlobalFile and v1ProjectFile mirror the legacy global.json /
// projects/*.json layout MemoryPilot v1 used before the relational schema.
type v1GlobalFile struct {
	Memories []v1Memory `json:"memories"`
}

type v1ProjectFile struct {
	Project  string     `json:"project"`
	Memories []v1Memory `json:"memories"`
}

type v1Memory struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Kind       string   `json:"kind"`
	Tags       []string `json:"tags"`
	Importance int      `json:"importance"`
}

// remapV1Kind translates a v1 kind name to its v2 equivalent: "context"
// became "fact", "architecture" became a "decision" tagged "architecture",
// and "component"/"workflow" both became "pattern".
func remapV1Kind(kind string) (mappedKind string, extraTag string) {
	switch kind {
	case "context":
		return "fact", ""
	case "architecture":
		return "decision", "architecture"
	case "component", "workflow":
		return "pattern", ""
	default:
		if _, ok := ValidKinds[kind]; ok {
			return kind, ""
		}
		return "note", ""
	}
}

// MigrateFromV1 imports a legacy v1 export directory (a global.json file
// and a projects/ subdirectory of per-project JSON files) into the current
// schema, remapping kinds and running them through the normal Add
// dedup/link pipeline.
func (s *Store) MigrateFromV1(ctx context.Context, dir string) (int, int, error) {
	imported, skipped := 0, 0

	globalPath := filepath.Join(dir, "global.json")
	if data, err := os.ReadFile(globalPath); err == nil {
		var g v1GlobalFile
		if err := json.Unmarshal(data, &g); err == nil {
			for _, m := range g.Memories {
				if s.importV1Memory(ctx, m, nil) {
					imported++
				} else {
					skipped++
				}
			}
		}
	}

	projectsDir := filepath.Join(dir, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return imported, skipped, nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(projectsDir, entry.Name()))
		if err != nil {
			continue
		}
		var p v1ProjectFile
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		project := p.Project
		if project == "" {
			project = strings.TrimSuffix(entry.Name(), ".json")
		}
		for _, m := range p.Memories {
			if s.importV1Memory(ctx, m, &project) {
				imported++
			} else {
				skipped++
			}
		}
	}
	return imported, skipped, nil
}

func (s *Store) importV1Memory(ctx context.Context, m v1Memory, project *string) bool {
	kind, extraTag := remapV1Kind(m.Kind)
	tags := append([]string{}, m.Tags...)
	if extraTag != "" {
		tags = append(tags, extraTag)
	}
	importance := m.Importance
	if importance == 0 {
		importance = 3
	}
	_, err := s.Add(ctx, AddInput{
		Content: m.Content, Kind: kind, Project: project, Tags: tags,
		Source: "migrate_v1", Importance: importance,
	})
	return err == nil
}
