package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// VectorHit is one nearest-neighbor result. Similarity is cosine in
// [-1, 1], already converted from vec0 distance where applicable.
type VectorHit struct {
	MemoryID   string
	Similarity float64
}

// UpsertEmbedding stores a vector for a memory and mirrors it into the
// vec0 table when available. The memory row records which model produced
// the vector so drift is visible in diagnostics.
func (s *Store) UpsertEmbedding(ctx context.Context, memoryID, contentHash string, vector []float32, chunkText, model string) error {
	if len(vector) == 0 {
		return types.E(types.KindBadRequest, "empty vector")
	}
	if err := s.EnsureVecTable(len(vector)); err != nil {
		return err
	}
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		if err := upsertEmbeddingTx(ctx, tx, s.hasVec, s.now().UTC(), memoryID, contentHash, vector, chunkText); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE memories SET embedding_model = ? WHERE id = ?", model, memoryID); err != nil {
			return fmt.Errorf("record embedding model: %w", err)
		}
		return nil
	})
}

// upsertEmbeddingTx writes the embeddings row and its vec0 mirror inside
// the caller's transaction. The tracker batches many of these per tx.
func upsertEmbeddingTx(ctx context.Context, tx DBTX, hasVec bool, now time.Time, memoryID, contentHash string, vector []float32, chunkText string) error {
	blob := encodeVector(vector)
	if blob == nil {
		return types.E(types.KindBadRequest, "vector encode failed")
	}

	// One embedding per memory: replace any prior row for this source.
	var oldID sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM embeddings WHERE source_type = 'memory' AND source_id = ?", memoryID).Scan(&oldID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("lookup prior embedding: %w", err)
	}
	if oldID.Valid {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE id = ?", oldID.String); err != nil {
			return fmt.Errorf("delete prior embedding: %w", err)
		}
		if hasVec {
			_, _ = tx.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE embedding_id = ?", oldID.String)
		}
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (id, content_hash, vector, dimensions, source_type, source_id, chunk_text, created_at)
		VALUES (?, ?, ?, ?, 'memory', ?, ?, ?)`,
		id, contentHash, blob, len(vector), memoryID, chunkText, formatTime(now)); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}

	if hasVec {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_embeddings (embedding, embedding_id, memory_id) VALUES (?, ?, ?)",
			blob, id, memoryID); err != nil {
			// The mirror is an accelerator; the blob remains the source
			// of truth and the fallback scan still works.
			logging.StoreWarn("vec mirror insert failed for %s: %v", memoryID, err)
		}
	}
	return nil
}

// deleteEmbeddingsTx removes a memory's vectors inside the caller's
// transaction. Used when content changes or rows are hard-deleted.
func deleteEmbeddingsTx(ctx context.Context, tx DBTX, hasVec bool, memoryID string) error {
	if hasVec {
		_, _ = tx.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE memory_id = ?", memoryID)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embeddings WHERE source_type = 'memory' AND source_id = ?", memoryID); err != nil {
		return fmt.Errorf("delete embeddings for %s: %w", memoryID, err)
	}
	return nil
}

// NearestByVector returns up to k nearest live memories by cosine
// similarity. With vec0 the distance runs in SQL; otherwise every stored
// blob is scanned in process, which stays acceptable at personal-corpus
// scale.
func (s *Store) NearestByVector(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	if s.hasVec && tableExists(s.readDB, "vec_embeddings") {
		hits, err := s.nearestVec0(ctx, vector, k)
		if err == nil {
			return hits, nil
		}
		logging.StoreWarn("vec0 query failed, falling back to blob scan: %v", err)
	}
	return s.nearestBruteForce(ctx, vector, k)
}

func (s *Store) nearestVec0(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	blob := encodeVector(vector)
	var hits []VectorHit
	err := s.WithReadDB(ctx, func(q DBTX) error {
		// Over-fetch so soft-deleted rows filtered by the join still
		// leave k live results.
		rows, err := q.QueryContext(ctx, `
			SELECT v.memory_id, vec_distance_cosine(v.embedding, ?) AS distance
			FROM vec_embeddings v
			JOIN memories m ON m.id = v.memory_id AND m.is_deleted = 0
			ORDER BY distance ASC
			LIMIT ?`, blob, k*4)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h VectorHit
			var distance float64
			if err := rows.Scan(&h.MemoryID, &distance); err != nil {
				return err
			}
			h.Similarity = 1 - distance
			hits = append(hits, h)
			if len(hits) >= k {
				break
			}
		}
		return rows.Err()
	})
	return hits, err
}

func (s *Store) nearestBruteForce(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	var hits []VectorHit
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT e.source_id, e.vector
			FROM embeddings e
			JOIN memories m ON m.id = e.source_id AND m.is_deleted = 0
			WHERE e.source_type = 'memory' AND e.dimensions = ?`, len(vector))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var memoryID string
			var blob []byte
			if err := rows.Scan(&memoryID, &blob); err != nil {
				return err
			}
			stored := decodeVector(blob)
			if stored == nil {
				continue
			}
			hits = append(hits, VectorHit{MemoryID: memoryID, Similarity: CosineSimilarity(vector, stored)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SimilarToMemory finds the nearest live neighbors of an existing memory
// using its stored vector. The memory itself is excluded.
func (s *Store) SimilarToMemory(ctx context.Context, id string, k int) ([]VectorHit, error) {
	var blob []byte
	err := s.WithReadDB(ctx, func(q DBTX) error {
		return q.QueryRowContext(ctx,
			"SELECT vector FROM embeddings WHERE source_type = 'memory' AND source_id = ?", id).Scan(&blob)
	})
	if err == sql.ErrNoRows {
		return nil, types.Ef(types.KindNotFound, "memory %s has no embedding", id)
	}
	if err != nil {
		return nil, err
	}
	vector := decodeVector(blob)
	if vector == nil {
		return nil, types.Ef(types.KindInternal, "stored vector for %s is corrupt", id)
	}

	hits, err := s.NearestByVector(ctx, vector, k+1)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.MemoryID == id {
			continue
		}
		out = append(out, h)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// MissingEmbeddings lists live memories with no stored vector or with a
// cleared embedding_model (the marker left behind by content changes).
func (s *Store) MissingEmbeddings(ctx context.Context, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0
			AND (m.embedding_model = '' OR NOT EXISTS (
				SELECT 1 FROM embeddings e WHERE e.source_type = 'memory' AND e.source_id = m.id))
			ORDER BY m.created_at ASC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return err
			}
			out = append(out, *m)
		}
		return rows.Err()
	})
	return out, err
}

// StaleEmbeddings lists live memories whose stored vector was computed
// from different content than the row currently holds.
func (s *Store) StaleEmbeddings(ctx context.Context, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0
			AND EXISTS (
				SELECT 1 FROM embeddings e
				WHERE e.source_type = 'memory' AND e.source_id = m.id AND e.content_hash != m.content_hash)
			ORDER BY m.updated_at ASC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return err
			}
			out = append(out, *m)
		}
		return rows.Err()
	})
	return out, err
}

// DriftedEmbeddings lists live memories embedded by a different model
// than the one config currently names. The tracker re-embeds them so a
// model switch converges without a manual rebuild.
func (s *Store) DriftedEmbeddings(ctx context.Context, currentModel string, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0
			AND m.embedding_model != ''
			AND m.embedding_model != ?
			ORDER BY m.updated_at ASC
			LIMIT ?`, currentModel, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return err
			}
			out = append(out, *m)
		}
		return rows.Err()
	})
	return out, err
}

// UpsertEmbeddingBatch writes several vectors in one transaction. Items
// with empty vectors are skipped; the caller decides whether to retry.
type EmbeddingItem struct {
	MemoryID    string
	ContentHash string
	Vector      []float32
	ChunkText   string
	Model       string
}

func (s *Store) UpsertEmbeddingBatch(ctx context.Context, items []EmbeddingItem) (int, error) {
	written := 0
	dims := 0
	for _, it := range items {
		if len(it.Vector) > 0 {
			dims = len(it.Vector)
			break
		}
	}
	if dims > 0 {
		if err := s.EnsureVecTable(dims); err != nil {
			return 0, err
		}
	}
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		now := s.now().UTC()
		for _, it := range items {
			if len(it.Vector) == 0 {
				continue
			}
			if err := upsertEmbeddingTx(ctx, tx, s.hasVec, now, it.MemoryID, it.ContentHash, it.Vector, it.ChunkText); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE memories SET embedding_model = ? WHERE id = ?", it.Model, it.MemoryID); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
