package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

var ftsTokenRe = regexp.MustCompile(`\w{3,}`)

// buildFTSQuery turns free text into a safe FTS5 MATCH expression: up to
// ten lowercased terms, each quoted so reserved words stay literal,
// OR-joined. Returns "" when the text yields no usable terms.
func buildFTSQuery(query string) string {
	words := ftsTokenRe.FindAllString(strings.ToLower(query), 10)
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

// minMaxNormalize rescales scores to [0, 1]. A uniform set maps to 1.0.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// effectiveScore is the retention value of a memory: pinned rows are
// always 1.0, everything else decays 5% per day from its importance
// with a floor of 0.1 of importance.
func effectiveScore(m *types.Memory, now time.Time) float64 {
	if m.Pinned {
		return 1.0
	}
	days := now.Sub(m.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := math.Pow(0.95, math.Floor(days))
	if decay < 0.1 {
		decay = 0.1
	}
	return m.Importance * decay
}

// bm25Hit is one FTS match with its raw rank score (positive, higher is
// better after negation).
type bm25Hit struct {
	MemoryID string
	Score    float64
}

// bm25Search runs the keyword pass. FTS5 rank is negative with lower
// meaning better, so results carry -rank. Soft-deleted rows are filtered
// by the join even though they remain indexed.
func (s *Store) bm25Search(ctx context.Context, query string, filters types.RecallFilters, k int) ([]bm25Hit, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" || k <= 0 {
		return nil, nil
	}

	cond, args := filterConditions(filters)
	sqlQuery := `
		SELECT m.id, -fts.rank AS score
		FROM memories_fts fts
		JOIN memories m ON fts.rowid = m.rowid
		WHERE memories_fts MATCH ? AND m.is_deleted = 0` + cond + `
		ORDER BY fts.rank
		LIMIT ?`
	queryArgs := append([]interface{}{ftsQuery}, args...)
	queryArgs = append(queryArgs, k)

	var hits []bm25Hit
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, sqlQuery, queryArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h bm25Hit
			if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
				return err
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		// Malformed MATCH syntax degrades to no keyword hits rather than
		// failing the whole recall.
		logging.RecallWarn("bm25 search failed: %v", err)
		return nil, nil
	}
	return hits, nil
}

// filterConditions renders RecallFilters into SQL fragments against the
// memories alias m. Callers append the returned condition string to a
// WHERE clause that already filters is_deleted.
func filterConditions(f types.RecallFilters) (string, []interface{}) {
	var cond strings.Builder
	var args []interface{}

	if f.Type != "" {
		cond.WriteString(" AND m.type = ?")
		args = append(args, f.Type)
	}
	if len(f.Tags) > 0 {
		ors := make([]string, 0, len(f.Tags))
		for _, t := range types.NormalizeTags(f.Tags) {
			ors = append(ors, "(',' || m.tags || ',') LIKE ?")
			args = append(args, "%,"+t+",%")
		}
		if len(ors) > 0 {
			cond.WriteString(" AND (" + strings.Join(ors, " OR ") + ")")
		}
	}
	if f.Who != "" {
		cond.WriteString(" AND m.who = ?")
		args = append(args, f.Who)
	}
	if f.Pinned != nil {
		if *f.Pinned {
			cond.WriteString(" AND m.pinned = 1")
		} else {
			cond.WriteString(" AND m.pinned = 0")
		}
	}
	if f.ImportanceMin != nil {
		cond.WriteString(" AND m.importance >= ?")
		args = append(args, *f.ImportanceMin)
	}
	if f.Since != nil {
		cond.WriteString(" AND m.created_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		cond.WriteString(" AND m.created_at <= ?")
		args = append(args, formatTime(*f.Until))
	}
	return cond.String(), args
}

// KeywordSearch is the FTS-only surface behind /api/memory/search. BM25
// hits come first in rank order; tag substring matches that FTS missed
// are appended with their effective score so stale tags still surface.
func (s *Store) KeywordSearch(ctx context.Context, query string, filters types.RecallFilters, limit int) ([]types.RecallResult, error) {
	if limit <= 0 {
		limit = 20
	}

	hits, err := s.bm25Search(ctx, query, filters, limit)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	normalized := minMaxNormalize(scores)

	now := s.now()
	seen := make(map[string]bool, len(hits))
	var results []types.RecallResult
	for i, h := range hits {
		m, err := s.GetMemory(ctx, h.MemoryID)
		if err != nil {
			continue
		}
		seen[h.MemoryID] = true
		results = append(results, shapeResult(m, normalized[i], types.SourceKeyword, 0))
	}

	// Tag fallback for terms FTS tokenization loses (hyphenated tags,
	// very short fragments).
	if len(results) < limit {
		tagMatches, err := s.tagSearch(ctx, query, filters, limit)
		if err == nil {
			for _, m := range tagMatches {
				if seen[m.ID] {
					continue
				}
				mem := m
				results = append(results, shapeResult(&mem, effectiveScore(&mem, now), types.SourceKeyword, 0))
				if len(results) >= limit {
					break
				}
			}
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) tagSearch(ctx context.Context, query string, filters types.RecallFilters, limit int) ([]types.Memory, error) {
	cond, args := filterConditions(filters)
	sqlQuery := "SELECT " + memoryCols + ` FROM memories m
		WHERE m.is_deleted = 0 AND LOWER(m.tags) LIKE ?` + cond + `
		ORDER BY m.importance DESC LIMIT ?`
	queryArgs := append([]interface{}{"%" + strings.ToLower(strings.TrimSpace(query)) + "%"}, args...)
	queryArgs = append(queryArgs, limit)

	var out []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, sqlQuery, queryArgs...)
		if err != nil {
			return fmt.Errorf("tag search: %w", err)
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

// shapeResult converts a memory row into the recall response shape,
// truncating content when truncateChars > 0.
func shapeResult(m *types.Memory, score float64, source string, truncateChars int) types.RecallResult {
	content, truncated := truncateContent(m.Content, truncateChars)
	return types.RecallResult{
		ID:            m.ID,
		Content:       content,
		ContentLength: len([]rune(m.Content)),
		Truncated:     truncated,
		Score:         score,
		Source:        source,
		Type:          m.Type,
		Tags:          m.Tags,
		Pinned:        m.Pinned,
		Importance:    m.Importance,
		Who:           m.Who,
		Project:       m.Project,
		CreatedAt:     m.CreatedAt,
	}
}

// truncateContent cuts content at max runes, appending the truncation
// marker. max <= 0 disables truncation.
func truncateContent(content string, max int) (string, bool) {
	if max <= 0 {
		return content, false
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content, false
	}
	return string(runes[:max]) + " [truncated]", true
}

// ScoredMemory pairs a memory with its decayed effective score for
// session-start composition.
type ScoredMemory struct {
	Memory types.Memory
	Score  float64
}

// SessionStartCandidates lists live memories for session-start
// injection: pinned rows first (effective score 1.0), then by decayed
// importance.
func (s *Store) SessionStartCandidates(ctx context.Context, limit int) ([]ScoredMemory, error) {
	if limit <= 0 {
		limit = 20
	}

	// Over-fetch by importance so decay reordering has material to work
	// with, then rank by effective score in process.
	var rows []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		res, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0
			ORDER BY m.pinned DESC, m.importance DESC, m.created_at DESC
			LIMIT ?`, limit*4)
		if err != nil {
			return err
		}
		defer res.Close()
		for res.Next() {
			m, err := scanMemory(res)
			if err != nil {
				return err
			}
			rows = append(rows, *m)
		}
		return res.Err()
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	scored := make([]ScoredMemory, len(rows))
	for i := range rows {
		scored[i] = ScoredMemory{Memory: rows[i], Score: effectiveScore(&rows[i], now)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Memory.Pinned != scored[j].Memory.Pinned {
			return scored[i].Memory.Pinned
		}
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
