// Package entities implements MemoryPilot's automatic entity extraction
// and kind-to-kind relation inference, grounded in the curated-regex,
// small-dedicated-subpackage idiom the teacher uses for its causal-phrase
// extractor.
package entities

import (
	"regexp"
	"strings"
)

// Entity is a single extracted (kind, value) pair for a memory.
type Entity struct {
	Kind  string // "tech", "file", "component", "project"
	Value string // normalized, case-folded
}

// techLexicon is a curated, case-insensitive vocabulary of technology
// tokens. A superset of spec.md's illustrative list, supplemented from
// the original implementation's own lexicon.
var techLexicon = []string{
	"svelte", "sveltekit", "react", "vue", "next", "nuxt", "astro",
	"supabase", "firebase", "postgresql", "postgres", "sqlite", "redis",
	"mongodb", "tailwind", "css", "sass", "bootstrap",
	"rust", "typescript", "javascript", "python", "swift", "go", "java",
	"cloudflare", "vercel", "netlify", "aws", "hetzner", "docker",
	"stripe", "auth", "jwt", "oauth",
	"bm25", "fts5", "sqlite3", "onnx", "bert", "openai", "claude", "llm",
	"mcp", "tauri", "electron", "flutter", "xcode",
	"git", "github", "npm", "cargo", "pnpm",
}

// componentHints are words whose presence near a CamelCase or kebab/snake
// token suggests that token names a UI component.
var componentHints = []string{
	"component", "page", "layout", "modal", "button", "form", "input",
	"header", "footer", "sidebar", "nav", "card", "table", "dialog",
	"dashboard", "settings", "profile", "auth", "login", "signup",
}

var filePathRe = regexp.MustCompile(`(?i)^\.{0,2}/?([\w.-]+/)+[\w.-]+\.[a-z0-9]{1,8}$`)
var bareFileRe = regexp.MustCompile(`(?i)^[\w.-]{2,}\.(go|ts|tsx|js|jsx|rs|py|svelte|md|json|yaml|yml|sql)$`)
var camelRe = regexp.MustCompile(`^[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+$`)

// Extract detects tech tokens, file paths, UI components, and the owning
// project reference from memory content. Entities are deduplicated within a
// single extraction by (kind, value).
func Extract(content string, project *string) []Entity {
	lower := strings.ToLower(content)
	seen := make(map[string]struct{})
	var out []Entity

	add := func(kind, value string) {
		key := kind + ":" + value
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Entity{Kind: kind, Value: value})
	}

	if project != nil && *project != "" {
		add("project", strings.ToLower(*project))
	}

	for _, tech := range techLexicon {
		if strings.Contains(lower, tech) {
			add("tech", tech)
		}
	}

	fields := strings.Fields(content)
	for _, raw := range fields {
		w := trimPunct(raw)
		if w == "" {
			continue
		}
		if len(w) > 4 && (filePathRe.MatchString(w) || bareFileRe.MatchString(w)) {
			add("file", strings.ToLower(w))
		}
	}

	for _, hint := range componentHints {
		if !strings.Contains(lower, hint) {
			continue
		}
		for _, raw := range fields {
			w := trimPunctKeepCase(raw)
			if len(w) <= 2 {
				continue
			}
			if camelRe.MatchString(w) || strings.Contains(w, "-") || strings.Contains(w, "_") {
				if withinDistance(lower, hint, strings.ToLower(w), 50) {
					add("component", strings.ToLower(w))
				}
			}
		}
	}

	return out
}

func trimPunct(s string) string {
	return strings.ToLower(trimPunctKeepCase(s))
}

func trimPunctKeepCase(s string) string {
	isKeep := func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '/' || r == '.' || r == '_' || r == '-'
	}
	start, end := 0, len(s)
	for start < end && !isKeep(rune(s[start])) {
		start++
	}
	for end > start && !isKeep(rune(s[end-1])) {
		end--
	}
	return s[start:end]
}

func withinDistance(text, a, b string, distance int) bool {
	posA := strings.Index(text, a)
	posB := strings.Index(text, b)
	if posA < 0 || posB < 0 {
		return false
	}
	d := posA - posB
	if d < 0 {
		d = -d
	}
	return d <= distance
}

// relationTable implements spec.md §4.2's source-kind x target-kind lookup.
var relationTable = map[[2]string]string{
	{"decision", "bug"}:      "resolves",
	{"decision", "decision"}: "refines",
	{"pattern", "decision"}:  "implements",
	{"snippet", "pattern"}:   "implements",
}

// InferRelation returns the relation type MemoryPilot assigns when linking
// a memory of sourceKind to one of targetKind, defaulting to "relates_to"
// for any pair not explicitly listed.
func InferRelation(sourceKind, targetKind string) string {
	if rel, ok := relationTable[[2]string{sourceKind, targetKind}]; ok {
		return rel
	}
	return "relates_to"
}
