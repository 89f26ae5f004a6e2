package memory

import (
	"database/sql"
	"time"

	"github.com/Soflution1/memory-pilot/internal/memory/entities"
)

// maxLinksPerEntity bounds how many neighbouring memories a single shared
// entity can wire together, keeping rebuildLinks' cost bounded on dense
// entities like a project name or a common tech token.
const maxLinksPerEntity = 10

// rebuildLinks extracts entities from mem's content, writes its
// memory_entities rows, and wires bidirectional links to other memories
// sharing at least one entity (at most maxLinksPerEntity per entity),
// using entities.InferRelation to pick
// the relation type in each direction. Called inside the same transaction
// as the insert/update that produced mem's current content.
func rebuildLinks(tx *sql.Tx, mem *Memory) error {
	if _, err := tx.Exec(`DELETE FROM memory_entities WHERE memory_id = ?`, mem.ID); err != nil {
		return err
	}

	found := entities.Extract(mem.Content, mem.Project)
	for _, e := range found {
		if _, err := tx.Exec(
			`INSERT INTO memory_entities (memory_id, entity_kind, entity_value) VALUES (?, ?, ?)
			 ON CONFLICT(memory_id, entity_kind, entity_value) DO NOTHING`,
			mem.ID, e.Kind, e.Value,
		); err != nil {
			return err
		}
	}
	if len(found) == 0 {
		return pruneStaleLinks(tx, mem.ID, nil)
	}

	neighbourKind := make(map[string]string)
	for _, e := range found {
		rows, err := tx.Query(
			`SELECT DISTINCT m.id, m.kind FROM memory_entities me
			 JOIN memories m ON m.id = me.memory_id
			 WHERE me.entity_kind = ? AND me.entity_value = ? AND me.memory_id != ?
			 LIMIT ?`,
			e.Kind, e.Value, mem.ID, maxLinksPerEntity,
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			var otherID, otherKind string
			if err := rows.Scan(&otherID, &otherKind); err != nil {
				rows.Close()
				return err
			}
			neighbourKind[otherID] = otherKind
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	if err := pruneStaleLinks(tx, mem.ID, neighbourKind); err != nil {
		return err
	}

	for otherID, otherKind := range neighbourKind {
		if err := insertLink(tx, mem.ID, otherID, entities.InferRelation(mem.Kind, otherKind)); err != nil {
			return err
		}
		if err := insertLink(tx, otherID, mem.ID, entities.InferRelation(otherKind, mem.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// pruneStaleLinks drops memory_links rows touching mem.ID that are no
// longer justified by a shared entity, e.g. after an Update removed the
// content that used to mention the other memory's entity.
func pruneStaleLinks(tx *sql.Tx, memID string, neighbours map[string]string) error {
	rows, err := tx.Query(`SELECT source_id, target_id FROM memory_links WHERE source_id = ? OR target_id = ?`, memID, memID)
	if err != nil {
		return err
	}
	var stale [][2]string
	for rows.Next() {
		var source, target string
		if err := rows.Scan(&source, &target); err != nil {
			rows.Close()
			return err
		}
		other := target
		if source != memID {
			other = source
		}
		if _, ok := neighbours[other]; !ok {
			stale = append(stale, [2]string{source, target})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, pair := range stale {
		if _, err := tx.Exec(`DELETE FROM memory_links WHERE source_id = ? AND target_id = ?`, pair[0], pair[1]); err != nil {
			return err
		}
	}
	return nil
}

func insertLink(tx *sql.Tx, sourceID, targetID, relationType string) error {
	if sourceID == targetID {
		return nil
	}
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO memory_links (source_id, target_id, relation_type, created_at) VALUES (?, ?, ?, ?)`,
		sourceID, targetID, relationType, formatTime(time.Now()),
	)
	return err
}
