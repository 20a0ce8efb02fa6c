package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signet/internal/types"
)

// The entity graph is deliberately small: named entities extracted from
// memories, plus a mention edge per (entity, memory) pair. Recall uses
// it to lift memories that talk about the same things as the query.

// UpsertEntityMentions links a memory to the given entity names,
// creating entities on first sight. Names are normalized to lowercase.
func (s *Store) UpsertEntityMentions(ctx context.Context, memoryID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		return upsertEntityMentionsTx(ctx, tx, s.now().UTC(), memoryID, names)
	})
}

func upsertEntityMentionsTx(ctx context.Context, tx DBTX, now time.Time, memoryID string, names []string) error {
	created := formatTime(now)
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		var entityID string
		err := tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE name = ?", name).Scan(&entityID)
		if err == sql.ErrNoRows {
			entityID = uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entities (id, name, type, created_at) VALUES (?, ?, '', ?)",
				entityID, name, created); err != nil {
				return fmt.Errorf("insert entity %q: %w", name, err)
			}
			// INSERT OR IGNORE may have lost a race with another name
			// row; read back the winning id.
			if err := tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE name = ?", name).Scan(&entityID); err != nil {
				return fmt.Errorf("reload entity %q: %w", name, err)
			}
		} else if err != nil {
			return fmt.Errorf("lookup entity %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO entity_mentions (entity_id, memory_id, created_at) VALUES (?, ?, ?)",
			entityID, memoryID, created); err != nil {
			return fmt.Errorf("insert mention %q -> %s: %w", name, memoryID, err)
		}
	}
	return nil
}

// MemoryIDsMentioning returns ids of live memories that mention an
// entity whose name equals one of the query terms.
func (s *Store) MemoryIDsMentioning(ctx context.Context, terms []string) (map[string]bool, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(normalized)), ",")
	args := make([]interface{}, len(normalized))
	for i, t := range normalized {
		args[i] = t
	}

	out := make(map[string]bool)
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT DISTINCT em.memory_id
			FROM entities e
			JOIN entity_mentions em ON em.entity_id = e.id
			JOIN memories m ON m.id = em.memory_id AND m.is_deleted = 0
			WHERE e.name IN (`+placeholders+`)`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph lookup: %w", err)
	}
	return out, nil
}

// EntitiesForMemory lists the entities a memory mentions.
func (s *Store) EntitiesForMemory(ctx context.Context, memoryID string) ([]types.Entity, error) {
	var out []types.Entity
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT e.id, e.name, e.type
			FROM entities e
			JOIN entity_mentions em ON em.entity_id = e.id
			WHERE em.memory_id = ?
			ORDER BY e.name`, memoryID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e types.Entity
			if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// CountEntities reports graph size for stats.
func (s *Store) CountEntities(ctx context.Context) (entities, mentions int, err error) {
	err = s.WithReadDB(ctx, func(q DBTX) error {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_mentions").Scan(&mentions)
	})
	return entities, mentions, err
}
