package memory

import "time"

// ValidKinds enumerates the nine memory kinds spec.md §3 allows.
var ValidKinds = map[string]struct{}{
	"fact": {}, "preference": {}, "decision": {}, "pattern": {},
	"snippet": {}, "bug": {}, "credential": {}, "todo": {}, "note": {},
}

// ValidRelations enumerates the extensible relation_type vocabulary.
var ValidRelations = map[string]struct{}{
	"relates_to": {}, "resolves": {}, "implements": {},
	"depends_on": {}, "deprecates": {}, "refines": {},
}

// Memory is MemoryPilot's core unit of stored knowledge.
type Memory struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	Kind           string     `json:"kind"`
	Project        *string    `json:"project"`
	Tags           []string   `json:"tags"`
	Source         string     `json:"source"`
	Importance     int        `json:"importance"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`
	Metadata       *string    `json:"metadata,omitempty"`
}

// Expired reports whether the memory's TTL has passed as of t.
func (m *Memory) Expired(t time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(t)
}

// Link is a directed edge between two distinct memories.
type Link struct {
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	RelationType string    `json:"relation_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Project is a named, path-anchored scope for auto-detection.
type Project struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	MemoryCount int64     `json:"memory_count"`
}

// SearchResult pairs a memory with its final fused-and-boosted score.
type SearchResult struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// SearchFilters narrows candidate generation in Search.
type SearchFilters struct {
	Project    *string
	Kinds      []string
	WorkingDir string
}

// AddInput is the write-side payload for Add / AddBulk items.
type AddInput struct {
	Content    string
	Kind       string
	Project    *string
	Tags       []string
	Source     string
	Importance int
	ExpiresAt  *time.Time
	Metadata   *string
}

// AddResult reports the outcome of a single Add.
type AddResult struct {
	Memory     Memory
	WasDeduped bool
}

// UpdateInput carries optional field updates; nil means "leave unchanged".
type UpdateInput struct {
	Content    *string
	Kind       *string
	Tags       []string
	Importance *int
	ExpiresAt  *time.Time
	ClearTTL   bool
}

// ListFilters narrows List.
type ListFilters struct {
	Project        *string
	Kind           *string
	IncludeExpired bool
}

// Page is a single page of listed memories.
type Page struct {
	Memories []Memory
	Total    int64
}
