// Package memory implements MemoryPilot's storage core: schema
// initialization, CRUD with dedup and FTS mirroring, the hybrid search
// engine, the knowledge graph, the garbage collector, the project brain,
// and the file watcher. Grounded in the teacher's internal/memory/store.go
// transactional-write idiom and in iammorganparry-clive's sqlite.go
// connection/migration pattern.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

// dedupThreshold is the minimum Jaccard token-set similarity against an
// existing memory in the same project for an insert to be treated as a
// duplicate (spec.md §3 invariant).
const dedupThreshold = 0.85

// Store is the single exclusive connection to the MemoryPilot database,
// guarded by mu per spec.md §5's concurrency model: one process-local
// mutex serializes every request-handling access to the connection.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	watchers *watcherRegistry
	now      func() time.Time
	vecIdx   *vecIndex
}

// Open creates or opens the SQLite database at path, enabling WAL mode and
// running schema init/migrations, matching clive's sqlite.go connection
// string idiom.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, memerr.Wrap(memerr.Storage, "create db directory", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, memerr.Wrap(memerr.Storage, "init schema", err)
	}

	s := &Store{
		db:       db,
		path:     path,
		watchers: newWatcherRegistry(),
		now:      time.Now,
	}
	if vecIndexEnabled() {
		s.vecIdx = newVecIndex(db, VectorDim)
	}
	return s, nil
}

// vecIndexEnabled reports whether MEMORYPILOT_VEC_INDEX opts a store into
// sqlite-vec vec0-backed candidate generation instead of the brute-force
// cosine scan in vectorCandidates. Off by default: the linear scan is the
// primary, always-correct path and doesn't require the cgo extension to
// load successfully.
func vecIndexEnabled() bool {
	switch strings.ToLower(os.Getenv("MEMORYPILOT_VEC_INDEX")) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// Close stops every watcher and closes the database connection, committing
// any in-flight transaction as part of the driver's close path.
func (s *Store) Close() error {
	s.watchers.stopAll()
	return s.db.Close()
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying connection for read-only diagnostic queries
// (audit, doctor) that don't belong in the Store's own API surface.
func (s *Store) DB() *sql.DB { return s.db }

// idfSource adapts the store's term_doc_freq table to the embedding
// engine's IDFSource, read within the lock held by the caller.
type idfSource struct {
	db *sql.DB
	tx *sql.Tx
}

func (s *idfSource) DocFreq(term string) int {
	var df int
	var err error
	if s.tx != nil {
		err = s.tx.QueryRow(`SELECT df FROM term_doc_freq WHERE term = ?`, term).Scan(&df)
	} else {
		err = s.db.QueryRow(`SELECT df FROM term_doc_freq WHERE term = ?`, term).Scan(&df)
	}
	if err != nil {
		return 0
	}
	return df
}

func (s *idfSource) CorpusSize() int {
	var n int
	q := `SELECT COUNT(*) FROM memories`
	var err error
	if s.tx != nil {
		err = s.tx.QueryRow(q).Scan(&n)
	} else {
		err = s.db.QueryRow(q).Scan(&n)
	}
	if err != nil {
		return 0
	}
	return n
}

// bumpDocFreq adjusts the document-frequency table for the unique terms of
// content by delta, within tx, so IDF stays consistent with the corpus as
// of the same transaction that mutates memories (spec.md §4.1/§4.3).
func bumpDocFreq(tx *sql.Tx, content string, delta int) error {
	seen := make(map[string]struct{})
	for _, tok := range tokenize(content) {
		seen[tok] = struct{}{}
	}
	for term := range seen {
		_, err := tx.Exec(
			`INSERT INTO term_doc_freq (term, df) VALUES (?, ?)
			 ON CONFLICT(term) DO UPDATE SET df = MAX(0, df + ?)`,
			term, max0(delta), delta,
		)
		if err != nil {
			return fmt.Errorf("bump doc freq: %w", err)
		}
	}
	return nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(s string) []string {
	var tags []string
	if s == "" {
		return tags
	}
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

// normalizeForDedup lowercases, folds punctuation to spaces, and collapses
// whitespace, matching the original implementation's normalize().
func normalizeForDedup(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	return strings.Join(fields, " ")
}

// jaccardSimilarity computes set-level Jaccard similarity over whitespace
// tokens with common English stopwords removed, per spec.md §9's resolution
// of the dedup tokenization open question.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// findDuplicate scans recent memories in the same project scope for a
// near-duplicate by Jaccard similarity, bounded to the 200 most recently
// updated candidates.
func findDuplicate(tx *sql.Tx, content string, project *string) (*Memory, error) {
	norm := normalizeForDedup(content)
	var rows *sql.Rows
	var err error
	if project != nil {
		rows, err = tx.Query(scanColumns+` FROM memories WHERE project = ? ORDER BY updated_at DESC LIMIT 200`, *project)
	} else {
		rows, err = tx.Query(scanColumns+` FROM memories WHERE project IS NULL ORDER BY updated_at DESC LIMIT 200`)
	}
	if err != nil {
		return nil, fmt.Errorf("dedup scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if jaccardSimilarity(norm, normalizeForDedup(m.Content)) >= dedupThreshold {
			return m, nil
		}
	}
	return nil, rows.Err()
}

const scanColumns = `SELECT id, content, kind, project, tags, source, importance,
	created_at, updated_at, expires_at, last_accessed_at, access_count, metadata`

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var project, expiresAt, lastAccessed, metadata sql.NullString
	var tagsJSON string
	var createdAt, updatedAt string
	if err := rows.Scan(&m.ID, &m.Content, &m.Kind, &project, &tagsJSON, &m.Source,
		&m.Importance, &createdAt, &updatedAt, &expiresAt, &lastAccessed, &m.AccessCount, &metadata); err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	m.Tags = unmarshalTags(tagsJSON)
	if project.Valid {
		p := project.String
		m.Project = &p
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		m.ExpiresAt = &t
	}
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		m.LastAccessedAt = &t
	}
	if metadata.Valid {
		m.Metadata = &metadata.String
	}
	return &m, nil
}

func scanMemoryRow(row *sql.Row) (*Memory, error) {
	var m Memory
	var project, expiresAt, lastAccessed, metadata sql.NullString
	var tagsJSON string
	var createdAt, updatedAt string
	if err := row.Scan(&m.ID, &m.Content, &m.Kind, &project, &tagsJSON, &m.Source,
		&m.Importance, &createdAt, &updatedAt, &expiresAt, &lastAccessed, &m.AccessCount, &metadata); err != nil {
		return nil, err
	}
	m.Tags = unmarshalTags(tagsJSON)
	if project.Valid {
		p := project.String
		m.Project = &p
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		m.ExpiresAt = &t
	}
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		m.LastAccessedAt = &t
	}
	if metadata.Valid {
		m.Metadata = &metadata.String
	}
	return &m, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

// Add inserts a new memory, deduping against the same project scope by
// Jaccard similarity, computing its embedding, writing the FTS mirror row,
// extracting entities, and wiring links — all within one transaction, per
// spec.md §4.3.
func (s *Store) Add(ctx context.Context, in AddInput) (AddResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return AddResult{}, memerr.New(memerr.InvalidArgument, "content must not be empty")
	}
	if in.Kind == "" {
		in.Kind = "fact"
	}
	if _, ok := ValidKinds[in.Kind]; !ok {
		return AddResult{}, memerr.New(memerr.InvalidArgument, fmt.Sprintf("invalid kind %q", in.Kind))
	}
	if in.Importance == 0 {
		in.Importance = 3
	}
	if in.Importance < 1 || in.Importance > 5 {
		return AddResult{}, memerr.New(memerr.InvalidArgument, "importance must be in [1,5]")
	}
	if in.Source == "" {
		in.Source = "cli"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	if existing, err := findDuplicate(tx, in.Content, in.Project); err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "dedup check", err)
	} else if existing != nil {
		merged, mergedEmb, err := mergeDuplicate(tx, existing, in)
		if err != nil {
			return AddResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return AddResult{}, memerr.Wrap(memerr.Storage, "commit dedup merge", err)
		}
		if mergedEmb != nil {
			s.syncVecIndex(merged.ID, mergedEmb)
		}
		return AddResult{Memory: *merged, WasDeduped: true}, nil
	}

	id := uuid.New().String()
	now := s.now()
	emb := Embed(in.Content, &idfSource{tx: tx})
	blob := VecToBlob(emb)

	var expiresAt any
	if in.ExpiresAt != nil {
		expiresAt = formatTime(*in.ExpiresAt)
	}
	var metadata any
	if in.Metadata != nil {
		metadata = *in.Metadata
	}
	var project any
	if in.Project != nil {
		project = *in.Project
	}

	_, err = tx.Exec(
		`INSERT INTO memories (id, content, kind, project, tags, source, importance,
			created_at, updated_at, expires_at, access_count, embedding, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, in.Content, in.Kind, project, marshalTags(in.Tags), in.Source, in.Importance,
		formatTime(now), formatTime(now), expiresAt, blob, metadata,
	)
	if err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "insert memory", err)
	}

	if err := bumpDocFreq(tx, in.Content, 1); err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "update idf", err)
	}

	if in.Project != nil {
		if err := ensureProject(tx, *in.Project, now); err != nil {
			return AddResult{}, memerr.Wrap(memerr.Storage, "ensure project", err)
		}
	}

	mem := Memory{
		ID: id, Content: in.Content, Kind: in.Kind, Project: in.Project,
		Tags: in.Tags, Source: in.Source, Importance: in.Importance,
		CreatedAt: now, UpdatedAt: now, ExpiresAt: in.ExpiresAt, Metadata: in.Metadata,
	}
	if err := rebuildLinks(tx, &mem); err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "rebuild links", err)
	}

	if err := tx.Commit(); err != nil {
		return AddResult{}, memerr.Wrap(memerr.Storage, "commit add", err)
	}
	s.syncVecIndex(mem.ID, emb)
	return AddResult{Memory: mem, WasDeduped: false}, nil
}

// syncVecIndex mirrors an embedding into the optional vec0 index. A no-op
// when the store wasn't opened with MEMORYPILOT_VEC_INDEX set.
func (s *Store) syncVecIndex(id string, emb []float32) {
	if s.vecIdx == nil {
		return
	}
	s.vecIdx.Insert(id, emb)
}

// mergeDuplicate implements the dedup-merge rule: the longer content wins,
// importance takes the max, tags union, and the existing id is returned.
func mergeDuplicate(tx *sql.Tx, existing *Memory, in AddInput) (*Memory, []float32, error) {
	newContent := existing.Content
	if len(in.Content) > len(existing.Content) {
		newContent = in.Content
	}
	newImportance := existing.Importance
	if in.Importance > newImportance {
		newImportance = in.Importance
	}
	mergedTags := append([]string{}, existing.Tags...)
	for _, t := range in.Tags {
		if !containsStr(mergedTags, t) {
			mergedTags = append(mergedTags, t)
		}
	}
	return applyUpdate(tx, existing, UpdateInput{
		Content:    strPtrIfChanged(existing.Content, newContent),
		Tags:       mergedTags,
		Importance: &newImportance,
		ExpiresAt:  in.ExpiresAt,
	})
}

func strPtrIfChanged(old, next string) *string {
	if old == next {
		return nil
	}
	return &next
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func ensureProject(tx *sql.Tx, name string, now time.Time) error {
	_, err := tx.Exec(
		`INSERT INTO projects (name, path, created_at) VALUES (?, '', ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, formatTime(now),
	)
	return err
}

// AddBulk adds multiple memories in one call. Each item dedups
// independently; a single item's failure never aborts its siblings.
func (s *Store) AddBulk(ctx context.Context, items []AddInput) ([]AddResult, int, int) {
	var results []AddResult
	merged, skipped := 0, 0
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			skipped++
			continue
		}
		res, err := s.Add(ctx, item)
		if err != nil {
			skipped++
			continue
		}
		if res.WasDeduped {
			merged++
		} else {
			results = append(results, res)
		}
	}
	return results, merged, skipped
}

// Get fetches a memory by id, updating its access tracking fields.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(scanColumns+` FROM memories WHERE id = ?`, id)
	mem, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.NotFound, "memory not found: "+id)
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "get memory", err)
	}

	now := s.now()
	if _, err := tx.Exec(
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(now), id,
	); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "update access tracking", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "commit get", err)
	}
	mem.AccessCount++
	mem.LastAccessedAt = &now
	return mem, nil
}

// peekMemory fetches a memory without touching access tracking, for
// internal use inside a transaction (Update, Delete).
func (s *Store) peekMemory(tx *sql.Tx, id string) (*Memory, error) {
	row := tx.QueryRow(scanColumns+` FROM memories WHERE id = ?`, id)
	return scanMemoryRow(row)
}

// Update mutates an existing memory's fields, recomputing the embedding only
// if content changed; entities and links are rebuilt on every update.
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	existing, err := s.peekMemory(tx, id)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.NotFound, "memory not found: "+id)
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "get for update", err)
	}

	mem, emb, err := applyUpdate(tx, existing, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "commit update", err)
	}
	if emb != nil {
		s.syncVecIndex(mem.ID, emb)
	}
	return mem, nil
}

func applyUpdate(tx *sql.Tx, existing *Memory, in UpdateInput) (*Memory, []float32, error) {
	newContent := existing.Content
	contentChanged := false
	if in.Content != nil && *in.Content != existing.Content {
		newContent = *in.Content
		contentChanged = true
	}
	newKind := existing.Kind
	if in.Kind != nil {
		if _, ok := ValidKinds[*in.Kind]; !ok {
			return nil, nil, memerr.New(memerr.InvalidArgument, fmt.Sprintf("invalid kind %q", *in.Kind))
		}
		newKind = *in.Kind
	}
	newTags := existing.Tags
	if in.Tags != nil {
		newTags = in.Tags
	}
	newImportance := existing.Importance
	if in.Importance != nil {
		if *in.Importance < 1 || *in.Importance > 5 {
			return nil, nil, memerr.New(memerr.InvalidArgument, "importance must be in [1,5]")
		}
		newImportance = *in.Importance
	}
	newExpiresAt := existing.ExpiresAt
	if in.ClearTTL {
		newExpiresAt = nil
	} else if in.ExpiresAt != nil {
		newExpiresAt = in.ExpiresAt
	}

	now := time.Now()
	var embedding []float32
	if contentChanged {
		embedding = Embed(newContent, &idfSource{tx: tx})
		if err := bumpDocFreq(tx, existing.Content, -1); err != nil {
			return nil, nil, memerr.Wrap(memerr.Storage, "idf decrement", err)
		}
		if err := bumpDocFreq(tx, newContent, 1); err != nil {
			return nil, nil, memerr.Wrap(memerr.Storage, "idf increment", err)
		}
	}

	var expiresAt any
	if newExpiresAt != nil {
		expiresAt = formatTime(*newExpiresAt)
	}

	if contentChanged {
		blob := VecToBlob(embedding)
		_, err := tx.Exec(
			`UPDATE memories SET content=?, kind=?, tags=?, importance=?, expires_at=?, updated_at=?, embedding=? WHERE id=?`,
			newContent, newKind, marshalTags(newTags), newImportance, expiresAt, formatTime(now), blob, existing.ID,
		)
		if err != nil {
			return nil, nil, memerr.Wrap(memerr.Storage, "update memory", err)
		}
	} else {
		_, err := tx.Exec(
			`UPDATE memories SET content=?, kind=?, tags=?, importance=?, expires_at=?, updated_at=? WHERE id=?`,
			newContent, newKind, marshalTags(newTags), newImportance, expiresAt, formatTime(now), existing.ID,
		)
		if err != nil {
			return nil, nil, memerr.Wrap(memerr.Storage, "update memory", err)
		}
	}

	mem := &Memory{
		ID: existing.ID, Content: newContent, Kind: newKind, Project: existing.Project,
		Tags: newTags, Source: existing.Source, Importance: newImportance,
		CreatedAt: existing.CreatedAt, UpdatedAt: now, ExpiresAt: newExpiresAt,
		LastAccessedAt: existing.LastAccessedAt, AccessCount: existing.AccessCount,
		Metadata: existing.Metadata,
	}
	if err := rebuildLinks(tx, mem); err != nil {
		return nil, nil, memerr.Wrap(memerr.Storage, "rebuild links", err)
	}
	return mem, embedding, nil
}

// Delete removes a memory; foreign-key cascades clear its entities and
// every link where it is source or target.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	existing, err := s.peekMemory(tx, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, memerr.Wrap(memerr.Storage, "get for delete", err)
	}

	if _, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return false, memerr.Wrap(memerr.Storage, "delete memory", err)
	}
	if err := bumpDocFreq(tx, existing.Content, -1); err != nil {
		return false, memerr.Wrap(memerr.Storage, "idf decrement", err)
	}
	if err := tx.Commit(); err != nil {
		return false, memerr.Wrap(memerr.Storage, "commit delete", err)
	}
	if s.vecIdx != nil {
		s.vecIdx.Delete(id)
	}
	return true, nil
}

// List returns a filtered, paginated slice of memories ordered by
// updated_at descending, alongside the total matching count.
func (s *Store) List(ctx context.Context, f ListFilters, limit, offset int) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	var conds []string
	var args []any
	if f.Project != nil {
		conds = append(conds, "project = ?")
		args = append(args, *f.Project)
	}
	if f.Kind != nil {
		conds = append(conds, "kind = ?")
		args = append(args, *f.Kind)
	}
	if !f.IncludeExpired {
		conds = append(conds, "(expires_at IS NULL OR expires_at >= ?)")
		args = append(args, formatTime(s.now()))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories"+where, args...).Scan(&total); err != nil {
		return Page{}, memerr.Wrap(memerr.Storage, "count memories", err)
	}

	rows, err := s.db.QueryContext(ctx, scanColumns+" FROM memories"+where+" ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return Page{}, memerr.Wrap(memerr.Storage, "list memories", err)
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return Page{}, memerr.Wrap(memerr.Storage, "scan list row", err)
		}
		page.Memories = append(page.Memories, *m)
	}
	page.Total = total
	return page, rows.Err()
}

// Stats reports database-wide counters used by get_stats.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total, projectsCount, expired int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "count total", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&projectsCount); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "count projects", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`,
		formatTime(s.now())).Scan(&expired); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "count expired", err)
	}

	byKind := map[string]int64{}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM memories GROUP BY kind`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "group by kind", err)
	}
	for rows.Next() {
		var k string
		var c int64
		if err := rows.Scan(&k, &c); err == nil {
			byKind[k] = c
		}
	}
	rows.Close()

	byProject := map[string]int64{}
	rows, err = s.db.QueryContext(ctx, `SELECT COALESCE(project, '__global__'), COUNT(*) FROM memories GROUP BY project`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "group by project", err)
	}
	for rows.Next() {
		var p string
		var c int64
		if err := rows.Scan(&p, &c); err == nil {
			byProject[p] = c
		}
	}
	rows.Close()

	var dbBytes int64
	if info, err := os.Stat(s.path); err == nil {
		dbBytes = info.Size()
	}

	return map[string]any{
		"total":      total,
		"by_kind":    byKind,
		"by_project": byProject,
		"projects":   projectsCount,
		"expired":    expired,
		"db_bytes":   dbBytes,
	}, nil
}

// BackfillEmbeddings computes and writes embeddings for every memory whose
// embedding column is still null (e.g. rows written without one by an
// earlier version of the store).
func (s *Store) BackfillEmbeddings(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, content FROM memories WHERE embedding IS NULL`)
	if err != nil {
		return 0, memerr.Wrap(memerr.Storage, "scan missing embeddings", err)
	}
	type pending struct{ id, content string }
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err == nil {
			items = append(items, p)
		}
	}
	rows.Close()

	embeddings := make(map[string][]float32, len(items))
	for _, p := range items {
		emb := Embed(p.content, &idfSource{tx: tx})
		if _, err := tx.Exec(`UPDATE memories SET embedding = ? WHERE id = ?`, VecToBlob(emb), p.id); err != nil {
			return 0, memerr.Wrap(memerr.Storage, "write backfilled embedding", err)
		}
		embeddings[p.id] = emb
	}
	if err := tx.Commit(); err != nil {
		return 0, memerr.Wrap(memerr.Storage, "commit backfill", err)
	}
	for id, emb := range embeddings {
		s.syncVecIndex(id, emb)
	}
	if s.vecIdx != nil {
		s.vecIdx.Backfill(s.db)
	}
	return len(items), nil
}

// CleanupExpired deletes every memory whose expires_at has passed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupExpiredLocked(ctx)
}

func (s *Store) cleanupExpiredLocked(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, memerr.Wrap(memerr.Storage, "begin tx", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	rows, err := tx.Query(`SELECT content FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, memerr.Wrap(memerr.Storage, "scan expired", err)
	}
	var contents []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err == nil {
			contents = append(contents, c)
		}
	}
	rows.Close()

	res, err := tx.Exec(`DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, memerr.Wrap(memerr.Storage, "delete expired", err)
	}
	for _, c := range contents {
		_ = bumpDocFreq(tx, c, -1)
	}
	if err := tx.Commit(); err != nil {
		return 0, memerr.Wrap(memerr.Storage, "commit cleanup", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetConfig upserts a config key/value pair.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return memerr.Wrap(memerr.Storage, "set config", err)
	}
	return nil
}

// GetConfig reads a config value, returning ("", false) if absent.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

// RegisterProject upserts a project's filesystem path and description.
func (s *Store) RegisterProject(ctx context.Context, name, path, description string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, path, description, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET path = excluded.path,
		   description = COALESCE(excluded.description, projects.description)`,
		name, path, nullIfEmpty(description), formatTime(now),
	)
	if err != nil {
		return Project{}, memerr.Wrap(memerr.Storage, "register project", err)
	}
	var count int64
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE project = ?`, name).Scan(&count)
	return Project{Name: name, Path: path, Description: description, CreatedAt: now, MemoryCount: count}, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListProjects returns every registered project with its memory count,
// ordered by count descending.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, p.path, COALESCE(p.description, ''), p.created_at, COUNT(m.id) AS cnt
		FROM projects p LEFT JOIN memories m ON m.project = p.name
		GROUP BY p.name ORDER BY cnt DESC`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "list projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.Name, &p.Path, &p.Description, &createdAt, &p.MemoryCount); err != nil {
			return nil, memerr.Wrap(memerr.Storage, "scan project", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DetectProject resolves a working directory to the project with the
// longest registered path that prefixes it, per spec.md §3's invariant.
func (s *Store) DetectProject(ctx context.Context, workingDir string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectProjectLocked(ctx, workingDir)
}

func (s *Store) detectProjectLocked(ctx context.Context, workingDir string) (*string, error) {
	if workingDir == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, path FROM projects WHERE path != '' ORDER BY length(path) DESC`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "detect project scan", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, path string
		if err := rows.Scan(&name, &path); err != nil {
			continue
		}
		if strings.HasPrefix(workingDir, path) {
			return &name, nil
		}
	}
	return nil, nil
}
