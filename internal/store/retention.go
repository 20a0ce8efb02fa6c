package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// SweepExpired hard-deletes soft-deleted memories whose retention window
// has lapsed, in batches so a large backlog never holds the write lock
// long. Vectors, mentions, candidates, and jobs go with the row; history
// stays as the permanent audit record.
func (s *Store) SweepExpired(ctx context.Context, retention time.Duration, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := formatTime(s.now().Add(-retention))
	total := 0

	for {
		var ids []string
		err := s.WithWriteTx(ctx, func(tx DBTX) error {
			ids = ids[:0]
			rows, err := tx.QueryContext(ctx,
				"SELECT id FROM memories WHERE is_deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ? LIMIT ?",
				cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("select expired: %w", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}

			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
			args := make([]interface{}, len(ids))
			for i, id := range ids {
				args[i] = id
			}

			if s.hasVec && tableExistsTx(ctx, tx, "vec_embeddings") {
				_, _ = tx.ExecContext(ctx,
					"DELETE FROM vec_embeddings WHERE memory_id IN ("+placeholders+")", args...)
			}
			for _, stmt := range []string{
				"DELETE FROM embeddings WHERE source_type = 'memory' AND source_id IN (" + placeholders + ")",
				"DELETE FROM entity_mentions WHERE memory_id IN (" + placeholders + ")",
				"DELETE FROM session_candidates WHERE memory_id IN (" + placeholders + ")",
				"DELETE FROM memory_jobs WHERE memory_id IN (" + placeholders + ")",
				"DELETE FROM memories WHERE id IN (" + placeholders + ")",
			} {
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return fmt.Errorf("sweep batch: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		total += len(ids)
		logging.Retention("hard-deleted %d expired memories (running total %d)", len(ids), total)
		if len(ids) < batchSize {
			break
		}
	}

	if total > 0 {
		meta, _ := json.Marshal(map[string]interface{}{"deleted": total, "retention_days": int(retention.Hours() / 24)})
		if err := s.WithWriteTx(ctx, func(tx DBTX) error {
			return insertHistory(ctx, tx, s.now(), types.HistoryEvent{
				MemoryID:  types.SystemMemoryID,
				Event:     "retention_sweep",
				Reason:    "retention window elapsed",
				Metadata:  string(meta),
				ChangedBy: types.ActorDaemon,
				ActorType: types.ActorDaemon,
			})
		}); err != nil {
			logging.RetentionWarn("sweep summary event failed: %v", err)
		}
	}
	return total, nil
}

// PruneLowValueMemories soft-deletes stale autonomous clutter: rows the
// pipeline wrote on its own (extraction or auto-* sources) that were
// never pinned, never accessed, scored under 0.3 importance, and sat
// untouched for 60 days. Rows a person put in, directly or through the
// feed, are never candidates. Soft delete keeps victims recoverable for
// the retention window.
func (s *Store) PruneLowValueMemories(ctx context.Context, maxBatch int, mc types.MutationContext) (int, error) {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	now := s.now()
	cutoff := formatTime(now.Add(-60 * 24 * time.Hour))

	var victims []*types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0
			AND m.pinned = 0
			AND (m.source_type = 'extraction' OR m.source_type LIKE 'auto-%')
			AND m.importance < 0.3
			AND m.access_count = 0
			AND m.created_at < ?
			ORDER BY m.created_at ASC
			LIMIT ?`, cutoff, maxBatch)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return err
			}
			victims = append(victims, m)
		}
		return rows.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("select prune candidates: %w", err)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	pruned := 0
	err = s.WithWriteTx(ctx, func(tx DBTX) error {
		ts := formatTime(now)
		for _, m := range victims {
			res, err := tx.ExecContext(ctx, `
				UPDATE memories SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ?, updated_by = ?
				WHERE id = ? AND is_deleted = 0 AND pinned = 0`, ts, ts, mc.ActorType, m.ID)
			if err != nil {
				return fmt.Errorf("prune %s: %w", m.ID, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}
			if err := insertHistory(ctx, tx, now, types.HistoryEvent{
				MemoryID:   m.ID,
				Event:      types.EventDeleted,
				OldContent: m.Content,
				ChangedBy:  mc.ActorType,
				ActorType:  mc.ActorType,
				SessionID:  mc.SessionID,
				RequestID:  mc.RequestID,
				Reason:     "low_value_prune",
			}); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return pruned, err
	}

	logging.Retention("pruned %d low-value memories", pruned)
	return pruned, nil
}
