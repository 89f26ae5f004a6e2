package memory

import (
	"context"
	"sort"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

// RelatedResult is one hop of a graph traversal: the memory reached, the
// relation that connects it to its parent, and the hop distance from the
// traversal root.
type RelatedResult struct {
	Memory       Memory `json:"memory"`
	RelationType string `json:"relation_type"`
	Depth        int    `json:"depth"`
}

// Related performs a breadth-first traversal of memory_links starting at
// id, up to maxDepth hops, following links in either direction. Cycles are
// permitted in the underlying graph; a visited set prevents revisiting a
// memory once reached at its shortest depth (spec.md §9). A neighbour joined
// to its parent by both an outgoing and an incoming link is reported with
// the outgoing link's relation.
func (s *Store) Related(ctx context.Context, id string, maxDepth int) ([]RelatedResult, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.peekMemoryNoTx(ctx, id); err != nil {
		return nil, err
	}

	visited := map[string]struct{}{id: {}}
	frontier := []string{id}
	var results []RelatedResult

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		type edge struct {
			neighborID, relation string
		}
		neighborsByParent := make(map[string][]edge)

		for _, parent := range frontier {
			rows, err := s.db.QueryContext(ctx,
				`SELECT target_id, relation_type, 0 AS dir FROM memory_links WHERE source_id = ?
				 UNION ALL
				 SELECT source_id, relation_type, 1 AS dir FROM memory_links WHERE target_id = ?
				 ORDER BY dir`,
				parent, parent,
			)
			if err != nil {
				return nil, memerr.Wrap(memerr.Storage, "traverse links", err)
			}
			var edges []edge
			for rows.Next() {
				var e edge
				var dir int
				if err := rows.Scan(&e.neighborID, &e.relation, &dir); err == nil {
					edges = append(edges, e)
				}
			}
			rows.Close()
			neighborsByParent[parent] = edges
		}

		for _, parent := range frontier {
			for _, e := range neighborsByParent[parent] {
				if _, seen := visited[e.neighborID]; seen {
					continue
				}
				visited[e.neighborID] = struct{}{}
				next = append(next, e.neighborID)

				mem, err := s.peekMemoryNoTx(ctx, e.neighborID)
				if err != nil {
					continue
				}
				results = append(results, RelatedResult{
					Memory: *mem, RelationType: e.relation, Depth: depth,
				})
			}
		}
		frontier = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Depth != results[j].Depth {
			return results[i].Depth < results[j].Depth
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	return results, nil
}

// peekMemoryNoTx fetches a memory outside of any explicit transaction, for
// read paths (graph traversal, brain aggregation) that don't need one.
func (s *Store) peekMemoryNoTx(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, scanColumns+` FROM memories WHERE id = ?`, id)
	mem, err := scanMemoryRow(row)
	if err != nil {
		return nil, memerr.New(memerr.NotFound, "memory not found: "+id)
	}
	return mem, nil
}
