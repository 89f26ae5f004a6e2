package memory

import (
	"context"
	"strings"
	"time"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

const (
	lexicalCandidateLimit = 50
	vectorCandidateLimit  = 50
	vectorScanLimit       = 200

	// expiredDemotion is the multiplier applied to a candidate whose TTL
	// has passed: present in results, but demoted well below any
	// unexpired candidate with a comparable base score.
	expiredDemotion = 0.25

	// maxLinkCountBoost caps how many links count toward the
	// graph-density boost, so one densely-connected entity can't let a
	// single memory dominate every result set.
	maxLinkCountBoost = 10
)

// Search runs MemoryPilot's hybrid lexical+vector search: BM25 candidates
// and cosine-similarity candidates are independently ranked, fused by
// Reciprocal Rank Fusion, boosted, and sorted, per spec.md §4.4. If
// filters.WorkingDir is set, its directory watcher is lazily started and
// its recent-change keywords boost matching candidates.
func (s *Store) Search(ctx context.Context, query string, limit int, filters SearchFilters) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if filters.WorkingDir != "" {
		s.watchers.EnsureWatching(filters.WorkingDir)
	}

	s.mu.Lock()
	lexicalIDs, err := s.lexicalCandidates(ctx, query, filters)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	vectorIDs, err := s.vectorCandidates(ctx, query, filters)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	lexicalRank := rankCandidates(lexicalIDs)
	vectorRank := rankCandidates(vectorIDs)

	candidateIDs := make(map[string]struct{}, len(lexicalIDs)+len(vectorIDs))
	for _, id := range lexicalIDs {
		candidateIDs[id] = struct{}{}
	}
	for _, id := range vectorIDs {
		candidateIDs[id] = struct{}{}
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	fused := make(map[string]float64, len(candidateIDs))
	for id := range candidateIDs {
		fused[id] = RRF(lexicalRank[id], vectorRank[id])
	}

	boostKeywords := s.watchers.BoostKeywords(filters.WorkingDir)

	s.mu.Lock()
	memos := make(map[string]*Memory, len(candidateIDs))
	for id := range candidateIDs {
		mem, err := s.peekMemoryNoTx(ctx, id)
		if err != nil {
			continue
		}
		memos[id] = mem
	}

	linkWeights, err := s.linkBoosts(ctx, keysOf(memos))
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var results []SearchResult
	for id, mem := range memos {
		score := fused[id]
		score *= importanceBoost(mem.Importance)
		score *= linkWeights[id]
		score *= watcherKeywordBoost(mem.Content, boostKeywords)
		if mem.Expired(now) {
			score *= expiredDemotion
		}
		results = append(results, SearchResult{Memory: *mem, Score: score})
	}

	sortSearchResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	s.trackAccess(ctx, results)
	return results, nil
}

func keysOf(m map[string]*Memory) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortSearchResults(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && less(results[j], results[j-1]) {
			results[j], results[j-1] = results[j-1], results[j]
			j--
		}
	}
}

func less(a, b SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Memory.UpdatedAt.Equal(b.Memory.UpdatedAt) {
		return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
	}
	return a.Memory.ID < b.Memory.ID
}

// importanceBoost implements spec.md §4.4's importance boost:
// × (1 + 0.1·(importance − 3)), clamped to [0.7, 1.3].
func importanceBoost(importance int) float64 {
	boost := 1.0 + 0.1*(float64(importance)-3.0)
	if boost < 0.7 {
		return 0.7
	}
	if boost > 1.3 {
		return 1.3
	}
	return boost
}

// linkBoosts computes, for each memory in ids, spec.md §4.4's graph-density
// boost: × (1 + 0.05·min(link_count, 10)), where link_count is the number
// of memory_links rows touching that memory in either direction.
func (s *Store) linkBoosts(ctx context.Context, ids []string) (map[string]float64, error) {
	weights := make(map[string]float64, len(ids))
	for _, id := range ids {
		weights[id] = 1.0
	}
	if len(ids) == 0 {
		return weights, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id FROM memory_links
		 WHERE source_id IN (`+placeholders(len(ids))+`) OR target_id IN (`+placeholders(len(ids))+`)`,
		append(append([]any{}, toAny(ids)...), toAny(ids)...)...,
	)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "link boosts", err)
	}
	defer rows.Close()

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	counts := make(map[string]int, len(ids))
	for rows.Next() {
		var source, target string
		if err := rows.Scan(&source, &target); err != nil {
			continue
		}
		if _, ok := idSet[source]; ok {
			counts[source]++
		}
		if _, ok := idSet[target]; ok {
			counts[target]++
		}
	}

	for id, count := range counts {
		if count > maxLinkCountBoost {
			count = maxLinkCountBoost
		}
		weights[id] = 1.0 + 0.05*float64(count)
	}
	return weights, rows.Err()
}

func watcherKeywordBoost(content string, keywords map[string]struct{}) float64 {
	if len(keywords) == 0 {
		return 1.0
	}
	lower := strings.ToLower(content)
	matches := 0
	for kw := range keywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	if matches > 5 {
		matches = 5
	}
	return 1.0 + float64(matches)*0.2
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := strings.Repeat("?,", n)
	return b[:len(b)-1]
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// lexicalCandidates returns up to lexicalCandidateLimit memory ids ranked
// by FTS5's bm25(), most-relevant first. bm25() returns more-negative
// values for stronger matches, so ORDER BY bm25() ascending is correct.
func (s *Store) lexicalCandidates(ctx context.Context, query string, f SearchFilters) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	conds, args := filterConds(f)
	where := ""
	if len(conds) > 0 {
		where = " AND " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id FROM memories_fts JOIN memories m ON m.rowid = memories_fts.rowid
		 WHERE memories_fts MATCH ?`+where+`
		 ORDER BY bm25(memories_fts, 10.0, 3.0, 1.0, 2.0) LIMIT ?`,
		append(append([]any{ftsQuery(query)}, args...), lexicalCandidateLimit)...,
	)
	if err != nil {
		if strings.Contains(err.Error(), "fts5: syntax error") {
			return nil, nil
		}
		return nil, memerr.Wrap(memerr.Storage, "lexical search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ftsQuery quotes each token so punctuation in free-text queries (slashes,
// dots in file names, etc.) doesn't trip FTS5's own query-syntax parser.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// vectorCandidates scores up to vectorScanLimit memories by cosine
// similarity to the query embedding and returns the top
// vectorCandidateLimit ids, most similar first.
func (s *Store) vectorCandidates(ctx context.Context, query string, f SearchFilters) ([]string, error) {
	queryVec := Embed(query, &idfSource{db: s.db})

	if s.vecIdx != nil && s.vecIdx.available && f.Project == nil && len(f.Kinds) == 0 {
		ids, err := s.vecIndexCandidates(queryVec)
		if err == nil {
			return ids, nil
		}
		// Fall through to the brute-force scan on any vec0 query failure.
	}

	conds, args := filterConds(f)
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.embedding FROM memories m`+where+` ORDER BY m.updated_at DESC LIMIT ?`,
		append(args, vectorScanLimit)...,
	)
	if err != nil {
		return nil, memerr.Wrap(memerr.Storage, "vector scan", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec := BlobToVec(blob)
		if len(vec) != VectorDim {
			continue
		}
		scores[id] = Cosine(queryVec, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.Wrap(memerr.Storage, "vector scan rows", err)
	}

	return topByScore(scores, vectorCandidateLimit), nil
}

// vecIndexCandidates queries the optional sqlite-vec vec0 index instead of
// the brute-force scan below, used only when no project/kind filter is in
// play since vec0's table carries no memory metadata to filter on.
func (s *Store) vecIndexCandidates(queryVec []float32) ([]string, error) {
	results, err := s.vecIdx.Search(queryVec, vectorCandidateLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.MemoryID)
	}
	return ids, nil
}

func filterConds(f SearchFilters) ([]string, []any) {
	var conds []string
	var args []any
	if f.Project != nil {
		conds = append(conds, "m.project = ?")
		args = append(args, *f.Project)
	}
	if len(f.Kinds) > 0 {
		conds = append(conds, "m.kind IN ("+placeholders(len(f.Kinds))+")")
		args = append(args, toAny(f.Kinds)...)
	}
	return conds, args
}

// trackAccess bumps access_count and last_accessed_at for every returned
// result in a single transaction, per spec.md §4.4's access-tracking side
// effect.
func (s *Store) trackAccess(ctx context.Context, results []SearchResult) {
	if len(results) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	for _, r := range results {
		tx.Exec(`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`, now, r.Memory.ID)
	}
	tx.Commit()
}
