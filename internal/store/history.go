package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signetai/signet/internal/types"
)

// insertHistory appends one audit row inside the caller's transaction.
// Mutating closures call this exactly once per mutation.
func insertHistory(ctx context.Context, tx DBTX, now time.Time, h types.HistoryEvent) error {
	metadata := h.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_history (memory_id, event, old_content, new_content, changed_by, actor_type, session_id, request_id, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.MemoryID, h.Event, h.OldContent, h.NewContent, h.ChangedBy,
		h.ActorType, h.SessionID, h.RequestID, h.Reason, metadata, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	return nil
}

// HistoryForMemory returns a memory's audit trail, newest first.
func (s *Store) HistoryForMemory(ctx context.Context, memoryID string, limit int) ([]types.HistoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []types.HistoryEvent
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT id, memory_id, event, old_content, new_content, changed_by, actor_type, session_id, request_id, reason, metadata, created_at
			FROM memory_history WHERE memory_id = ?
			ORDER BY id DESC LIMIT ?`, memoryID, limit)
		if err != nil {
			return fmt.Errorf("query history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var h types.HistoryEvent
			var createdAt string
			if err := rows.Scan(&h.ID, &h.MemoryID, &h.Event, &h.OldContent, &h.NewContent,
				&h.ChangedBy, &h.ActorType, &h.SessionID, &h.RequestID, &h.Reason, &h.Metadata, &createdAt); err != nil {
				return fmt.Errorf("scan history row: %w", err)
			}
			if t, ok := parseTime(createdAt); ok {
				h.CreatedAt = t
			}
			events = append(events, h)
		}
		return rows.Err()
	})
	return events, err
}

// RecordSystemEvent writes a synthetic history row describing a
// store-wide operation such as a repair action or retention sweep.
// The row uses memory_id "system" so it never collides with a real id.
func (s *Store) RecordSystemEvent(ctx context.Context, event, reason string, metadata map[string]interface{}, mc types.MutationContext) error {
	meta := "{}"
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			meta = string(raw)
		}
	}
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		return insertHistory(ctx, tx, s.now(), types.HistoryEvent{
			MemoryID:  types.SystemMemoryID,
			Event:     event,
			Reason:    reason,
			Metadata:  meta,
			ChangedBy: mc.ActorType,
			ActorType: mc.ActorType,
			SessionID: mc.SessionID,
			RequestID: mc.RequestID,
		})
	})
}

// LastSystemEvent returns the most recent synthetic event with the given
// name, or nil when none exists. Diagnostics uses it to report when the
// last sweep ran.
func (s *Store) LastSystemEvent(ctx context.Context, event string) (*types.HistoryEvent, error) {
	var out *types.HistoryEvent
	err := s.WithReadDB(ctx, func(q DBTX) error {
		var h types.HistoryEvent
		var createdAt string
		row := q.QueryRowContext(ctx, `
			SELECT id, memory_id, event, reason, metadata, actor_type, created_at
			FROM memory_history WHERE memory_id = ? AND event = ?
			ORDER BY id DESC LIMIT 1`, types.SystemMemoryID, event)
		if err := row.Scan(&h.ID, &h.MemoryID, &h.Event, &h.Reason, &h.Metadata, &h.ActorType, &createdAt); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if t, ok := parseTime(createdAt); ok {
			h.CreatedAt = t
		}
		out = &h
		return nil
	})
	return out, err
}
