package memory

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

// gcEligibleKinds are the kinds the garbage collector ever considers for
// staleness-based removal. Durable knowledge (fact, preference, decision,
// pattern, credential) is never touched by GC.
var gcEligibleKinds = map[string]struct{}{
	"note": {}, "snippet": {}, "bug": {}, "todo": {},
}

// clusterMinSize is the minimum number of stale candidates sharing a
// (project, kind) pair required to merge them into one summary memory
// instead of deleting them individually.
const clusterMinSize = 3

// vacuumRowThreshold and vacuumByteThreshold are the OR-combined triggers
// for running VACUUM after a non-dry-run GC pass.
const (
	vacuumRowThreshold  = 50
	vacuumByteThreshold = 1 << 20
)

// GCConfig tunes the staleness formula and candidate filters.
type GCConfig struct {
	AgeDays        int
	ImportanceMax  int
	StalenessFloor float64
}

// GCReport summarizes the outcome (or, for a dry run, the projected
// outcome) of a single RunGC call.
type GCReport struct {
	DryRun         bool     `json:"dry_run"`
	CandidatesFound int     `json:"candidates_found"`
	Merged         int      `json:"merged"`
	Deleted        int      `json:"deleted"`
	OrphansRemoved int      `json:"orphans_removed"`
	Vacuumed       bool     `json:"vacuumed"`
	MergedIDs      []string `json:"merged_ids,omitempty"`
	DeletedIDs     []string `json:"deleted_ids,omitempty"`
}

// RunGC scores every GC-eligible memory for staleness, merges clusters of
// three or more stale memories sharing a (project, kind) pair into one
// summary, deletes the remaining stale singles and sweeps orphaned entities
// and links, all inside one transaction, then conditionally VACUUMs after
// the commit. With
// dryRun set, the report reflects what would happen but the transaction is
// rolled back and the database is left untouched, per spec.md §4.6.
func (s *Store) RunGC(ctx context.Context, cfg GCConfig, dryRun bool) (GCReport, error) {
	if cfg.AgeDays <= 0 {
		cfg.AgeDays = 30
	}
	if cfg.ImportanceMax <= 0 {
		cfg.ImportanceMax = 3
	}
	if cfg.StalenessFloor <= 0 {
		cfg.StalenessFloor = 0.6
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GCReport{}, memerr.Wrap(memerr.Storage, "begin gc tx", err)
	}
	defer tx.Rollback()

	now := s.now()
	candidates, err := gcCandidates(tx, cfg, now)
	if err != nil {
		return GCReport{}, memerr.Wrap(memerr.Storage, "score gc candidates", err)
	}

	report := GCReport{DryRun: dryRun, CandidatesFound: len(candidates)}

	clusters := clusterByProjectKind(candidates)
	merged := make(map[string]struct{})
	mergedEmbeddings := make(map[string][]float32)
	for _, cluster := range clusters {
		if len(cluster) < clusterMinSize {
			continue
		}
		summary := mergeCluster(cluster, now)
		emb, err := insertMergedMemory(tx, summary)
		if err != nil {
			return GCReport{}, memerr.Wrap(memerr.Storage, "insert merged memory", err)
		}
		mergedEmbeddings[summary.ID] = emb
		for _, c := range cluster {
			merged[c.ID] = struct{}{}
		}
		report.Merged++
		report.MergedIDs = append(report.MergedIDs, summary.ID)
	}

	var removedVecIDs []string
	for _, c := range candidates {
		if _, wasMerged := merged[c.ID]; wasMerged {
			if err := deleteMemoryTx(tx, c.ID); err != nil {
				return GCReport{}, memerr.Wrap(memerr.Storage, "delete merged source", err)
			}
			removedVecIDs = append(removedVecIDs, c.ID)
			continue
		}
		if err := deleteMemoryTx(tx, c.ID); err != nil {
			return GCReport{}, memerr.Wrap(memerr.Storage, "delete stale memory", err)
		}
		report.Deleted++
		report.DeletedIDs = append(report.DeletedIDs, c.ID)
		removedVecIDs = append(removedVecIDs, c.ID)
	}

	orphans, err := sweepOrphans(tx)
	if err != nil {
		return GCReport{}, memerr.Wrap(memerr.Storage, "sweep orphans", err)
	}
	report.OrphansRemoved = orphans

	totalRemoved := report.Deleted + len(merged)
	if !dryRun {
		if err := tx.Commit(); err != nil {
			return GCReport{}, memerr.Wrap(memerr.Storage, "commit gc", err)
		}
		for _, id := range removedVecIDs {
			if s.vecIdx != nil {
				s.vecIdx.Delete(id)
			}
		}
		for id, emb := range mergedEmbeddings {
			s.syncVecIndex(id, emb)
		}
		if totalRemoved >= vacuumRowThreshold || estimatedReclaimable(s.db) >= vacuumByteThreshold {
			s.db.Exec(`VACUUM`)
			report.Vacuumed = true
		}
	}
	return report, nil
}

type gcCandidate struct {
	Memory
	Staleness float64
}

func gcCandidates(tx *sql.Tx, cfg GCConfig, now time.Time) ([]gcCandidate, error) {
	rows, err := tx.Query(scanColumns+` FROM memories WHERE (expires_at IS NULL OR expires_at >= ?)`, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gcCandidate
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if _, ok := gcEligibleKinds[m.Kind]; !ok {
			continue
		}
		if m.Importance > cfg.ImportanceMax {
			continue
		}
		score := stalenessScore(*m, now, cfg.AgeDays)
		if score > cfg.StalenessFloor {
			out = append(out, gcCandidate{Memory: *m, Staleness: score})
		}
	}
	return out, rows.Err()
}

// stalenessScore implements spec.md §4.6's weighted formula: age, inverse
// importance, inverse recency of access, and inverse access count, each
// clamped to [0,1] before weighting.
func stalenessScore(m Memory, now time.Time, ageDays int) float64 {
	ageFactor := clamp01(daysBetween(m.CreatedAt, now) / float64(ageDays))
	inverseImportance := clamp01(float64(6-m.Importance) / 5.0)

	recencyBase := m.UpdatedAt
	if m.LastAccessedAt != nil {
		recencyBase = *m.LastAccessedAt
	}
	inverseRecency := clamp01(daysBetween(recencyBase, now) / float64(ageDays))

	inverseAccessCount := 1.0 / (1.0 + float64(m.AccessCount))

	return 0.4*ageFactor + 0.3*inverseImportance + 0.2*inverseRecency + 0.1*inverseAccessCount
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func daysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}

func clusterByProjectKind(candidates []gcCandidate) [][]gcCandidate {
	groups := make(map[string][]gcCandidate)
	var order []string
	for _, c := range candidates {
		key := c.Kind + "|"
		if c.Project != nil {
			key += *c.Project
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	sort.Strings(order)
	out := make([][]gcCandidate, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// mergeCluster builds a single summary memory from a cluster of stale
// memories: a short-word-frequency subject line followed by up to eight
// bulleted excerpts of each member's first sentence, capped at 200
// characters apiece.
func mergeCluster(cluster []gcCandidate, now time.Time) Memory {
	tagSet := make(map[string]struct{})
	maxImportance := 0
	minCreated := cluster[0].CreatedAt
	var excerpts []string
	wordFreq := make(map[string]int)

	for _, c := range cluster {
		for _, t := range c.Tags {
			tagSet[strings.ToLower(t)] = struct{}{}
		}
		if c.Importance > maxImportance {
			maxImportance = c.Importance
		}
		if c.CreatedAt.Before(minCreated) {
			minCreated = c.CreatedAt
		}
		for _, w := range strings.Fields(normalizeForDedup(c.Content)) {
			if _, stop := stopwords[w]; !stop && len(w) > 2 {
				wordFreq[w]++
			}
		}
		if len(excerpts) < 8 {
			excerpts = append(excerpts, "- "+truncateRunes(firstSentence(c.Content), 200))
		}
	}
	tagSet["merged"] = struct{}{}

	subject := topWords(wordFreq, 5)
	content := strings.Join(append([]string{strings.Join(subject, " ")}, excerpts...), "\n")

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	return Memory{
		ID: uuid.New().String(), Content: content, Kind: cluster[0].Kind,
		Project: cluster[0].Project, Tags: tags, Source: "gc",
		Importance: maxImportance, CreatedAt: minCreated, UpdatedAt: now,
	}
}

func firstSentence(content string) string {
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(content, sep); i > 0 {
			return content[:i]
		}
	}
	return content
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func topWords(freq map[string]int, n int) []string {
	type kv struct {
		word  string
		count int
	}
	var pairs []kv
	for w, c := range freq {
		pairs = append(pairs, kv{w, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].word < pairs[j].word
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.word
	}
	return out
}

func insertMergedMemory(tx *sql.Tx, m Memory) ([]float32, error) {
	emb := Embed(m.Content, &idfSource{tx: tx})
	var project any
	if m.Project != nil {
		project = *m.Project
	}
	_, err := tx.Exec(
		`INSERT INTO memories (id, content, kind, project, tags, source, importance,
			created_at, updated_at, access_count, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.Content, m.Kind, project, marshalTags(m.Tags), m.Source, m.Importance,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), VecToBlob(emb),
	)
	if err != nil {
		return nil, err
	}
	if err := bumpDocFreq(tx, m.Content, 1); err != nil {
		return nil, err
	}
	return emb, nil
}

func deleteMemoryTx(tx *sql.Tx, id string) error {
	var content string
	if err := tx.QueryRow(`SELECT content FROM memories WHERE id = ?`, id).Scan(&content); err == sql.ErrNoRows {
		return nil
	} else if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return err
	}
	return bumpDocFreq(tx, content, -1)
}

// sweepOrphans removes memory_entities and memory_links rows whose
// referenced memory no longer exists. Foreign-key cascades normally keep
// these consistent; this is a defensive pass for rows written before
// cascades were enabled or restored from an export.
func sweepOrphans(tx *sql.Tx) (int, error) {
	total := 0
	res, err := tx.Exec(`DELETE FROM memory_entities WHERE memory_id NOT IN (SELECT id FROM memories)`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	total += int(n)

	res, err = tx.Exec(`DELETE FROM memory_links WHERE source_id NOT IN (SELECT id FROM memories) OR target_id NOT IN (SELECT id FROM memories)`)
	if err != nil {
		return 0, err
	}
	n, _ = res.RowsAffected()
	total += int(n)
	return total, nil
}

func estimatedReclaimable(db *sql.DB) int64 {
	var pageSize, freelistCount int64
	if err := db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0
	}
	if err := db.QueryRow(`PRAGMA freelist_count`).Scan(&freelistCount); err != nil {
		return 0
	}
	return pageSize * freelistCount
}
