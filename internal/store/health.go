package store

import (
	"context"
)

// EmbeddingHealth is the raw material for the diagnostics checks: row
// counts over memories, embeddings, and the vec0 mirror.
type EmbeddingHealth struct {
	ActiveMemories int
	Embedded       int
	Models         []string
	Dimensions     map[int]int
	NullVectors    int
	EmbeddingRows  int
	VecRows        int
	VecAvailable   bool
	Orphaned       int
}

// CollectEmbeddingHealth gathers all counts in one read transaction so
// the checks see a consistent snapshot.
func (s *Store) CollectEmbeddingHealth(ctx context.Context) (*EmbeddingHealth, error) {
	h := &EmbeddingHealth{
		Dimensions:   make(map[int]int),
		VecAvailable: s.hasVec && tableExists(s.readDB, "vec_embeddings"),
	}
	err := s.WithReadDB(ctx, func(q DBTX) error {
		if err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memories WHERE is_deleted = 0").Scan(&h.ActiveMemories); err != nil {
			return err
		}
		if err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM memories m
			WHERE m.is_deleted = 0 AND EXISTS (
				SELECT 1 FROM embeddings e WHERE e.source_type = 'memory' AND e.source_id = m.id)`).Scan(&h.Embedded); err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx,
			"SELECT DISTINCT embedding_model FROM memories WHERE is_deleted = 0 AND embedding_model != '' ORDER BY embedding_model")
		if err != nil {
			return err
		}
		for rows.Next() {
			var model string
			if err := rows.Scan(&model); err != nil {
				rows.Close()
				return err
			}
			h.Models = append(h.Models, model)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = q.QueryContext(ctx,
			"SELECT dimensions, COUNT(*) FROM embeddings WHERE source_type = 'memory' GROUP BY dimensions")
		if err != nil {
			return err
		}
		for rows.Next() {
			var dims, n int
			if err := rows.Scan(&dims, &n); err != nil {
				rows.Close()
				return err
			}
			h.Dimensions[dims] = n
			h.EmbeddingRows += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM embeddings
			WHERE source_type = 'memory' AND (vector IS NULL OR LENGTH(vector) = 0)`).Scan(&h.NullVectors); err != nil {
			return err
		}
		if err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM embeddings e
			WHERE e.source_type = 'memory' AND NOT EXISTS (
				SELECT 1 FROM memories m WHERE m.id = e.source_id AND m.is_deleted = 0)`).Scan(&h.Orphaned); err != nil {
			return err
		}
		if h.VecAvailable {
			if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_embeddings").Scan(&h.VecRows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
