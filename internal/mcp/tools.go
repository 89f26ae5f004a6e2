package mcp

import (
	"context"
	"time"

	"github.com/Soflution1/memory-pilot/internal/memerr"
	"github.com/Soflution1/memory-pilot/internal/memory"
)

type toolHandler func(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error)

// toolHandlers is MemoryPilot's fixed twenty-tool surface, dispatched by
// name from handleToolCall.
var toolHandlers = map[string]toolHandler{
	"add_memory":         toolAddMemory,
	"add_memories":       toolAddMemories,
	"search_memory":      toolSearchMemory,
	"get_memory":         toolGetMemory,
	"update_memory":      toolUpdateMemory,
	"delete_memory":      toolDeleteMemory,
	"list_memories":      toolListMemories,
	"recall":             toolRecall,
	"get_project_brain":  toolGetProjectBrain,
	"get_project_context": toolGetProjectContext,
	"get_file_context":   toolGetFileContext,
	"register_project":   toolRegisterProject,
	"list_projects":      toolListProjects,
	"get_stats":          toolGetStats,
	"get_global_prompt":  toolGetGlobalPrompt,
	"export_memories":    toolExportMemories,
	"set_config":         toolSetConfig,
	"run_gc":             toolRunGC,
	"cleanup_expired":    toolCleanupExpired,
	"migrate_v1":         toolMigrateV1,
}

func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": desc}
}

func arrayProp(itemType, desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": itemType},
		"description": desc,
	}
}

// toolDefinitions returns the tools/list payload: name, description, and
// JSON Schema input shape for each of the twenty tools.
func toolDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "add_memory",
			"description": "Store a single memory: a fact, preference, decision, pattern, snippet, bug, credential, todo, or note.",
			"inputSchema": schema(map[string]interface{}{
				"content":    prop("string", "The text to remember"),
				"kind":       prop("string", "One of: fact, preference, decision, pattern, snippet, bug, credential, todo, note"),
				"project":    prop("string", "Project name to scope this memory to"),
				"tags":       arrayProp("string", "Tags for this memory"),
				"source":     prop("string", "Where this memory came from"),
				"importance": prop("integer", "Importance from 1 (low) to 5 (critical), default 3"),
				"expires_in_days": prop("integer", "Optional TTL in days after which this memory expires"),
			}, "content", "kind"),
		},
		{
			"name":        "add_memories",
			"description": "Store several memories in one call. A failing item is skipped and only counted under \"skipped\" rather than aborting the batch; failures are not reported per item.",
			"inputSchema": schema(map[string]interface{}{
				"memories": map[string]interface{}{
					"type":        "array",
					"description": "Array of memory objects, each shaped like add_memory's arguments",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"content":    prop("string", "The text to remember"),
							"kind":       prop("string", "Memory kind"),
							"project":    prop("string", "Project name"),
							"tags":       arrayProp("string", "Tags"),
							"importance": prop("integer", "Importance 1-5"),
						},
						"required": []string{"content", "kind"},
					},
				},
			}, "memories"),
		},
		{
			"name":        "search_memory",
			"description": "Hybrid lexical + vector search over stored memories, fused by reciprocal rank fusion and boosted by importance, links, and active file-watcher context.",
			"inputSchema": schema(map[string]interface{}{
				"query":       prop("string", "What to search for"),
				"project":     prop("string", "Restrict results to this project"),
				"kinds":       arrayProp("string", "Restrict results to these kinds"),
				"limit":       prop("integer", "Maximum results, default 10"),
				"working_dir": prop("string", "Current working directory, used for project detection and watcher boosts"),
			}, "query"),
		},
		{
			"name":        "get_memory",
			"description": "Fetch a single memory by id. Updates its access tracking.",
			"inputSchema": schema(map[string]interface{}{
				"id": prop("string", "Memory id"),
			}, "id"),
		},
		{
			"name":        "update_memory",
			"description": "Patch a memory's content, kind, tags, importance, or expiry.",
			"inputSchema": schema(map[string]interface{}{
				"id":              prop("string", "Memory id"),
				"content":         prop("string", "New content"),
				"kind":            prop("string", "New kind"),
				"tags":            arrayProp("string", "Replacement tag set"),
				"importance":      prop("integer", "New importance 1-5"),
				"expires_in_days": prop("integer", "New TTL in days from now"),
				"clear_ttl":       prop("boolean", "Clear any existing expiry"),
			}, "id"),
		},
		{
			"name":        "delete_memory",
			"description": "Permanently delete a memory by id.",
			"inputSchema": schema(map[string]interface{}{
				"id": prop("string", "Memory id"),
			}, "id"),
		},
		{
			"name":        "list_memories",
			"description": "Page through memories, optionally filtered by project and kind.",
			"inputSchema": schema(map[string]interface{}{
				"project":         prop("string", "Restrict to this project"),
				"kind":            prop("string", "Restrict to this kind"),
				"limit":           prop("integer", "Page size, default 20"),
				"offset":          prop("integer", "Page offset, default 0"),
				"include_expired": prop("boolean", "Include expired memories"),
			}),
		},
		{
			"name":        "recall",
			"description": "Catch-up call for a fresh assistant session: project brain, highest-importance memories, hint-keyword search, global prompt, and stats, all in one response.",
			"inputSchema": schema(map[string]interface{}{
				"working_dir": prop("string", "Current working directory"),
				"hint":        prop("string", "Optional free-text hint to search alongside the brain"),
			}, "working_dir"),
		},
		{
			"name":        "get_project_brain",
			"description": "Return the bounded-size knowledge aggregate for a project: tech stack, architecture, active bugs, recent changes, preferences/patterns, key components.",
			"inputSchema": schema(map[string]interface{}{
				"project": prop("string", "Project name; omit for the global scope"),
			}),
		},
		{
			"name":        "get_project_context",
			"description": "Like get_project_brain, but resolves the project from a working directory instead of a name.",
			"inputSchema": schema(map[string]interface{}{
				"working_dir": prop("string", "Current working directory"),
			}, "working_dir"),
		},
		{
			"name":        "get_file_context",
			"description": "Return memories that reference a given file path, most recently updated first.",
			"inputSchema": schema(map[string]interface{}{
				"file_path": prop("string", "Path to the file"),
				"limit":     prop("integer", "Maximum results, default 10"),
			}, "file_path"),
		},
		{
			"name":        "register_project",
			"description": "Register a named project anchored to a filesystem path, enabling automatic project detection.",
			"inputSchema": schema(map[string]interface{}{
				"name":        prop("string", "Project name"),
				"path":        prop("string", "Absolute path to the project root"),
				"description": prop("string", "Optional project description"),
			}, "name", "path"),
		},
		{
			"name":        "list_projects",
			"description": "List every registered project and its memory count.",
			"inputSchema": schema(map[string]interface{}{}),
		},
		{
			"name":        "get_stats",
			"description": "Return aggregate store statistics: memory counts by kind, project counts, and database size.",
			"inputSchema": schema(map[string]interface{}{}),
		},
		{
			"name":        "get_global_prompt",
			"description": "Return the ambient global prompt text, resolved from the configured path, the user-level default, or the working directory, in that order.",
			"inputSchema": schema(map[string]interface{}{
				"working_dir": prop("string", "Current working directory"),
			}),
		},
		{
			"name":        "export_memories",
			"description": "Export memories as JSON or Markdown, optionally scoped to a project.",
			"inputSchema": schema(map[string]interface{}{
				"project": prop("string", "Restrict export to this project"),
				"format":  prop("string", "json or markdown, default json"),
			}),
		},
		{
			"name":        "set_config",
			"description": "Set a runtime configuration key, such as global_prompt_path.",
			"inputSchema": schema(map[string]interface{}{
				"key":   prop("string", "Config key"),
				"value": prop("string", "Config value"),
			}, "key", "value"),
		},
		{
			"name":        "run_gc",
			"description": "Run garbage collection: score eligible memories for staleness, merge dense clusters, delete the rest, and sweep orphaned links.",
			"inputSchema": schema(map[string]interface{}{
				"age_days":        prop("integer", "Age threshold in days, default 30"),
				"importance_max":  prop("integer", "Only consider memories at or below this importance, default 3"),
				"staleness_floor": prop("number", "Minimum staleness score to qualify, default 0.6"),
				"dry_run":         prop("boolean", "Report what would happen without modifying the store"),
			}),
		},
		{
			"name":        "cleanup_expired",
			"description": "Delete every memory whose TTL has already passed.",
			"inputSchema": schema(map[string]interface{}{}),
		},
		{
			"name":        "migrate_v1",
			"description": "Import a legacy v1 export directory (global.json plus projects/*.json) into the current store.",
			"inputSchema": schema(map[string]interface{}{
				"dir": prop("string", "Path to the v1 export directory"),
			}, "dir"),
		},
	}
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argStringPtr(args map[string]interface{}, key string) *string {
	if v, ok := args[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func argInt(args map[string]interface{}, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func argBool(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argFloat(args map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func argStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", memerr.New(memerr.InvalidArgument, key+" is required")
	}
	return v, nil
}

func toolAddMemory(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}
	kind, err := requireString(args, "kind")
	if err != nil {
		return nil, err
	}

	in := memory.AddInput{
		Content:    content,
		Kind:       kind,
		Project:    argStringPtr(args, "project"),
		Tags:       argStringSlice(args, "tags"),
		Source:     argString(args, "source"),
		Importance: argInt(args, "importance", 3),
	}
	if days := argInt(args, "expires_in_days", 0); days > 0 {
		t := time.Now().Add(time.Duration(days) * 24 * time.Hour)
		in.ExpiresAt = &t
	}

	result, err := s.store.Add(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"memory":      result.Memory,
		"was_deduped": result.WasDeduped,
	}, nil
}

func toolAddMemories(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	raw, ok := args["memories"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, memerr.New(memerr.InvalidArgument, "memories must be a non-empty array")
	}

	items := make([]memory.AddInput, 0, len(raw))
	for _, r := range raw {
		obj, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, memory.AddInput{
			Content:    argString(obj, "content"),
			Kind:       argString(obj, "kind"),
			Project:    argStringPtr(obj, "project"),
			Tags:       argStringSlice(obj, "tags"),
			Source:     argString(obj, "source"),
			Importance: argInt(obj, "importance", 3),
		})
	}

	results, deduped, skipped := s.store.AddBulk(ctx, items)
	return map[string]interface{}{
		"results": results,
		"added":   len(results),
		"deduped": deduped,
		"skipped": skipped,
	}, nil
}

func toolSearchMemory(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	filters := memory.SearchFilters{
		Project:    argStringPtr(args, "project"),
		Kinds:      argStringSlice(args, "kinds"),
		WorkingDir: argString(args, "working_dir"),
	}
	results, err := s.store.Search(ctx, query, argInt(args, "limit", 10), filters)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results}, nil
}

func toolGetMemory(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

func toolUpdateMemory(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}
	in := memory.UpdateInput{
		Content:  argStringPtr(args, "content"),
		Kind:     argStringPtr(args, "kind"),
		Tags:     argStringSlice(args, "tags"),
		ClearTTL: argBool(args, "clear_ttl"),
	}
	if v, ok := args["importance"].(float64); ok {
		iv := int(v)
		in.Importance = &iv
	}
	if days := argInt(args, "expires_in_days", 0); days > 0 {
		t := time.Now().Add(time.Duration(days) * 24 * time.Hour)
		in.ExpiresAt = &t
	}
	return s.store.Update(ctx, id, in)
}

func toolDeleteMemory(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": ok}, nil
}

func toolListMemories(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	filters := memory.ListFilters{
		Project:        argStringPtr(args, "project"),
		Kind:           argStringPtr(args, "kind"),
		IncludeExpired: argBool(args, "include_expired"),
	}
	page, err := s.store.List(ctx, filters, argInt(args, "limit", 20), argInt(args, "offset", 0))
	if err != nil {
		return nil, err
	}
	return page, nil
}

func toolRecall(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	workingDir, err := requireString(args, "working_dir")
	if err != nil {
		return nil, err
	}
	return s.store.Recall(ctx, workingDir, argString(args, "hint"))
}

func toolGetProjectBrain(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.store.ProjectBrain(ctx, argStringPtr(args, "project"))
}

func toolGetProjectContext(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	workingDir, err := requireString(args, "working_dir")
	if err != nil {
		return nil, err
	}
	return s.store.GetProjectContext(ctx, workingDir)
}

func toolGetFileContext(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	filePath, err := requireString(args, "file_path")
	if err != nil {
		return nil, err
	}
	return s.store.GetFileContext(ctx, filePath, argInt(args, "limit", 10))
}

func toolRegisterProject(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	return s.store.RegisterProject(ctx, name, path, argString(args, "description"))
}

func toolListProjects(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"projects": projects}, nil
}

func toolGetStats(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.store.Stats(ctx)
}

func toolGetGlobalPrompt(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	prompt, err := s.store.GetGlobalPrompt(ctx, argString(args, "working_dir"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"prompt": prompt}, nil
}

func toolExportMemories(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	format := argString(args, "format")
	if format == "" {
		format = "json"
	}
	data, err := s.store.ExportMemories(ctx, argStringPtr(args, "project"), format)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"format": format, "content": string(data)}, nil
}

func toolSetConfig(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	key, err := requireString(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return nil, err
	}
	if err := s.store.SetConfig(ctx, key, value); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func toolRunGC(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	cfg := memory.GCConfig{
		AgeDays:        argInt(args, "age_days", 0),
		ImportanceMax:  argInt(args, "importance_max", 0),
		StalenessFloor: argFloat(args, "staleness_floor", 0),
	}
	return s.store.RunGC(ctx, cfg, argBool(args, "dry_run"))
}

func toolCleanupExpired(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	n, err := s.store.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": n}, nil
}

func toolMigrateV1(s *Server, ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dir, err := requireString(args, "dir")
	if err != nil {
		return nil, err
	}
	imported, skipped, err := s.store.MigrateFromV1(ctx, dir)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"imported": imported, "skipped": skipped}, nil
}
