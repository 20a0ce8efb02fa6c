package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signetai/signet/internal/types"
)

// Session candidate rows record which memories were surfaced to (or
// considered for) a session, so continuity checks can tell what the
// agent has already seen.

// RecordSessionCandidates upserts a batch of candidate rows in one
// transaction. Re-recording a pair refreshes its score and flags.
func (s *Store) RecordSessionCandidates(ctx context.Context, sessionKey string, candidates []types.SessionCandidate) error {
	if sessionKey == "" || len(candidates) == 0 {
		return nil
	}
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		ts := formatTime(s.now())
		for _, c := range candidates {
			injected := 0
			if c.Injected {
				injected = 1
			}
			ftsHit := 0
			if c.FtsHit {
				ftsHit = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_candidates (session_key, memory_id, score, source, injected, fts_hit, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(session_key, memory_id) DO UPDATE SET
					score = excluded.score,
					source = excluded.source,
					injected = MAX(session_candidates.injected, excluded.injected),
					fts_hit = MAX(session_candidates.fts_hit, excluded.fts_hit)`,
				sessionKey, c.MemoryID, c.Score, c.Source, injected, ftsHit, ts); err != nil {
				return fmt.Errorf("record candidate %s: %w", c.MemoryID, err)
			}
		}
		return nil
	})
}

// TrackFtsHits marks candidates that later matched a keyword search in
// the same session. Unknown pairs are inserted so late hits still count.
func (s *Store) TrackFtsHits(ctx context.Context, sessionKey string, memoryIDs []string) error {
	if sessionKey == "" || len(memoryIDs) == 0 {
		return nil
	}
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		ts := formatTime(s.now())
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(memoryIDs)), ",")
		args := make([]interface{}, 0, len(memoryIDs)+1)
		args = append(args, sessionKey)
		for _, id := range memoryIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE session_candidates SET fts_hit = 1 WHERE session_key = ? AND memory_id IN ("+placeholders+")",
			args...); err != nil {
			return fmt.Errorf("track fts hits: %w", err)
		}
		for _, id := range memoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO session_candidates (session_key, memory_id, score, source, injected, fts_hit, created_at)
				VALUES (?, ?, 0, 'fts', 0, 1, ?)`, sessionKey, id, ts); err != nil {
				return fmt.Errorf("insert fts candidate %s: %w", id, err)
			}
		}
		return nil
	})
}

// SessionCandidates lists a session's candidate rows, best scores first.
func (s *Store) SessionCandidates(ctx context.Context, sessionKey string) ([]types.SessionCandidate, error) {
	var out []types.SessionCandidate
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT session_key, memory_id, score, source, injected, fts_hit, created_at
			FROM session_candidates WHERE session_key = ?
			ORDER BY score DESC, created_at ASC`, sessionKey)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c types.SessionCandidate
			var injected, ftsHit int
			var createdAt string
			if err := rows.Scan(&c.SessionKey, &c.MemoryID, &c.Score, &c.Source, &injected, &ftsHit, &createdAt); err != nil {
				return err
			}
			c.Injected = injected != 0
			c.FtsHit = ftsHit != 0
			if t, ok := parseTime(createdAt); ok {
				c.CreatedAt = t
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// PruneSessionCandidates drops candidate rows older than maxAge. The
// retention sweeper calls this; candidates are ephemeral bookkeeping.
func (s *Store) PruneSessionCandidates(ctx context.Context, maxAge time.Duration) (int, error) {
	pruned := 0
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM session_candidates WHERE created_at < ?",
			formatTime(s.now().Add(-maxAge)))
		if err != nil {
			return fmt.Errorf("prune session candidates: %w", err)
		}
		n, _ := res.RowsAffected()
		pruned = int(n)
		return nil
	})
	return pruned, err
}
