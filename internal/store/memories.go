package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/signetai/signet/internal/types"
)

// memoryCols is the canonical column list for scanMemory. Every SELECT
// that feeds scanMemory must use it verbatim.
const memoryCols = `id, content, normalized_content, content_hash, type, tags, importance, pinned,
	is_deleted, deleted_at, version, access_count, last_accessed, who, why, project,
	source_type, source_id, embedding_model, extraction_status, extraction_model,
	created_at, updated_at, updated_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var tags string
	var pinned, deleted int
	var deletedAt, lastAccessed sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.Content, &m.NormalizedContent, &m.ContentHash, &m.Type, &tags, &m.Importance, &pinned,
		&deleted, &deletedAt, &m.Version, &m.AccessCount, &lastAccessed, &m.Who, &m.Why, &m.Project,
		&m.SourceType, &m.SourceID, &m.EmbeddingModel, &m.ExtractionStatus, &m.ExtractionModel,
		&createdAt, &updatedAt, &m.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	m.Tags = types.SplitTags(tags)
	m.Pinned = pinned != 0
	m.IsDeleted = deleted != 0
	m.DeletedAt = parseTimePtr(deletedAt)
	m.LastAccessed = parseTimePtr(lastAccessed)
	if t, ok := parseTime(createdAt); ok {
		m.CreatedAt = t
	}
	if t, ok := parseTime(updatedAt); ok {
		m.UpdatedAt = t
	}
	return &m, nil
}

func getMemoryTx(ctx context.Context, tx DBTX, id string) (*types.Memory, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+memoryCols+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", id, err)
	}
	return m, nil
}

func liveMemoryByHash(ctx context.Context, tx DBTX, hash string) (*types.Memory, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+memoryCols+" FROM memories WHERE content_hash = ? AND is_deleted = 0", hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory by hash: %w", err)
	}
	return m, nil
}

// GetMemory returns a memory by id, deleted rows included so callers can
// inspect recovery candidates. Missing rows map to a not_found error.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	var m *types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		var err error
		m, err = getMemoryTx(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, types.Ef(types.KindNotFound, "memory %s not found", id)
	}
	return m, nil
}

// ListParams narrows ListMemories. Zero values mean no filter.
type ListParams struct {
	Type           string
	Tag            string
	Who            string
	Project        string
	PinnedOnly     bool
	IncludeDeleted bool
	DeletedOnly    bool
	Limit          int
	Offset         int
}

// ListMemories pages through memories ordered newest first.
func (s *Store) ListMemories(ctx context.Context, p ListParams) ([]types.Memory, int, error) {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}

	where := []string{"1=1"}
	args := []interface{}{}
	switch {
	case p.DeletedOnly:
		where = append(where, "is_deleted = 1")
	case !p.IncludeDeleted:
		where = append(where, "is_deleted = 0")
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	if p.Tag != "" {
		where = append(where, "(',' || tags || ',') LIKE ?")
		args = append(args, "%,"+strings.ToLower(strings.TrimSpace(p.Tag))+",%")
	}
	if p.Who != "" {
		where = append(where, "who = ?")
		args = append(args, p.Who)
	}
	if p.Project != "" {
		where = append(where, "project = ?")
		args = append(args, p.Project)
	}
	if p.PinnedOnly {
		where = append(where, "pinned = 1")
	}

	cond := strings.Join(where, " AND ")
	var out []types.Memory
	var total int
	err := s.WithReadDB(ctx, func(q DBTX) error {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE "+cond, args...).Scan(&total); err != nil {
			return fmt.Errorf("count memories: %w", err)
		}

		query := "SELECT " + memoryCols + " FROM memories WHERE " + cond +
			" ORDER BY created_at DESC LIMIT ? OFFSET ?"
		rows, err := q.QueryContext(ctx, query, append(args, p.Limit, p.Offset)...)
		if err != nil {
			return fmt.Errorf("list memories: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return fmt.Errorf("scan memory: %w", err)
			}
			out = append(out, *m)
		}
		return rows.Err()
	})
	return out, total, err
}

// Stats summarizes the store for the /api/memories?stats=true surface
// and the diagnostics checks.
type Stats struct {
	Total             int            `json:"total"`
	ByType            map[string]int `json:"by_type"`
	Pinned            int            `json:"pinned"`
	Deleted           int            `json:"deleted"`
	WithEmbeddings    int            `json:"with_embeddings"`
	WithoutEmbeddings int            `json:"without_embeddings"`
	EmbeddingModels   []string       `json:"embedding_models,omitempty"`
	HistoryEvents     int            `json:"history_events"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
	FTSRows           int            `json:"fts_rows"`
	VecRows           int            `json:"vec_rows,omitempty"`
}

// CollectStats gathers the counters in one read pass.
func (s *Store) CollectStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByType:       make(map[string]int),
		JobsByStatus: make(map[string]int),
	}
	err := s.WithReadDB(ctx, func(q DBTX) error {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE is_deleted = 0").Scan(&st.Total); err != nil {
			return err
		}
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE is_deleted = 1").Scan(&st.Deleted); err != nil {
			return err
		}
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE is_deleted = 0 AND pinned = 1").Scan(&st.Pinned); err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, "SELECT type, COUNT(*) FROM memories WHERE is_deleted = 0 GROUP BY type")
		if err != nil {
			return err
		}
		for rows.Next() {
			var typ string
			var n int
			if err := rows.Scan(&typ, &n); err != nil {
				rows.Close()
				return err
			}
			st.ByType[typ] = n
		}
		rows.Close()

		if err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM memories m
			WHERE m.is_deleted = 0 AND EXISTS (SELECT 1 FROM embeddings e WHERE e.source_id = m.id)`).Scan(&st.WithEmbeddings); err != nil {
			return err
		}
		st.WithoutEmbeddings = st.Total - st.WithEmbeddings

		models, err := q.QueryContext(ctx,
			"SELECT DISTINCT embedding_model FROM memories WHERE is_deleted = 0 AND embedding_model != ''")
		if err != nil {
			return err
		}
		for models.Next() {
			var m string
			if err := models.Scan(&m); err != nil {
				models.Close()
				return err
			}
			st.EmbeddingModels = append(st.EmbeddingModels, m)
		}
		models.Close()

		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_history").Scan(&st.HistoryEvents); err != nil {
			return err
		}

		jobs, err := q.QueryContext(ctx, "SELECT status, COUNT(*) FROM memory_jobs GROUP BY status")
		if err != nil {
			return err
		}
		for jobs.Next() {
			var status string
			var n int
			if err := jobs.Scan(&status, &n); err != nil {
				jobs.Close()
				return err
			}
			st.JobsByStatus[status] = n
		}
		jobs.Close()

		// FTS row count; failure here is reported, not fatal, since the
		// consistency check handles divergence.
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories_fts").Scan(&st.FTSRows); err != nil {
			st.FTSRows = -1
		}
		if s.hasVec && tableExistsTx(ctx, q, "vec_embeddings") {
			if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_embeddings").Scan(&st.VecRows); err != nil {
				st.VecRows = -1
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}
	return st, nil
}

func tableExistsTx(ctx context.Context, q DBTX, table string) bool {
	var count int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// FTSConsistency reports live row count vs indexed count. The repair
// action rebuilds when drift exceeds its threshold.
func (s *Store) FTSConsistency(ctx context.Context) (memoryRows, ftsRows int, err error) {
	err = s.WithReadDB(ctx, func(q DBTX) error {
		// The FTS index covers every memories row; soft-deleted rows stay
		// indexed and are filtered at query time.
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&memoryRows); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories_fts").Scan(&ftsRows)
	})
	return memoryRows, ftsRows, err
}
