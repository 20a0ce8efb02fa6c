package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// RecallOptions carries the tuned search parameters. The daemon builds
// one from config at boot; tests build them literally.
type RecallOptions struct {
	Alpha    float64
	TopK     int
	MinScore float64
	Limit    int

	RehearsalEnabled      bool
	RehearsalWeight       float64
	RehearsalHalfLifeDays float64

	GraphEnabled bool
	GraphWeight  float64
	GraphTimeout time.Duration

	RerankEnabled bool
	RerankTopN    int
	RerankTimeout time.Duration

	TruncateChars  int
	SkipAccessBump bool
}

// RecallResponse is the shaped output of one recall.
type RecallResponse struct {
	Results []types.RecallResult `json:"results"`
	Method  string               `json:"method"`
	Count   int                  `json:"count"`
}

type recallCandidate struct {
	memory   *types.Memory
	score    float64
	vecScore float64
	bm25     float64
}

// Recall runs the hybrid pipeline: embed the query, run the vector and
// keyword passes, min-max normalize each side, fuse with alpha, filter
// by min score, apply rehearsal and graph boosts, optionally rerank the
// head, then shape and bump access counts in one transaction.
//
// A missing or failing embedding provider degrades to keyword-only
// scoring; the response method says which path ran.
func (s *Store) Recall(ctx context.Context, query string, filters types.RecallFilters, opts RecallOptions) (*RecallResponse, error) {
	timer := logging.StartTimer(logging.CategoryRecall, "Recall")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.Limit <= 0 {
		opts.Limit = opts.TopK
	}
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = 0.7
	}

	method := types.MethodKeyword
	var queryVec []float32
	if s.embedder != nil {
		if queryVec = s.embedder.EmbedOrNil(ctx, query); queryVec != nil {
			method = types.MethodHybrid
		}
	}

	vecScores := make(map[string]float64)
	if queryVec != nil {
		hits, err := s.NearestByVector(ctx, queryVec, opts.TopK)
		if err != nil {
			logging.RecallWarn("vector pass failed: %v", err)
		} else {
			raw := make([]float64, len(hits))
			for i, h := range hits {
				raw[i] = h.Similarity
			}
			for i, norm := range minMaxNormalize(raw) {
				vecScores[hits[i].MemoryID] = norm
			}
		}
	}

	bm25Scores := make(map[string]float64)
	bm25Hits, err := s.bm25Search(ctx, query, filters, opts.TopK)
	if err == nil && len(bm25Hits) > 0 {
		raw := make([]float64, len(bm25Hits))
		for i, h := range bm25Hits {
			raw[i] = h.Score
		}
		for i, norm := range minMaxNormalize(raw) {
			bm25Scores[bm25Hits[i].MemoryID] = norm
		}
	}

	if len(vecScores) == 0 && len(bm25Scores) == 0 {
		return &RecallResponse{Results: []types.RecallResult{}, Method: method}, nil
	}

	// Fuse the union. Vector-only hits still need filter checks, which
	// the keyword pass already did in SQL.
	union := make(map[string]bool, len(vecScores)+len(bm25Scores))
	for id := range vecScores {
		union[id] = true
	}
	for id := range bm25Scores {
		union[id] = true
	}

	now := s.now()
	candidates := make([]*recallCandidate, 0, len(union))
	for id := range union {
		m, err := s.GetMemory(ctx, id)
		if err != nil || m.IsDeleted {
			continue
		}
		if !matchesFilters(m, filters) {
			continue
		}
		v := vecScores[id]
		b := bm25Scores[id]
		// Alpha only arbitrates rows both passes found. A single-source
		// hit keeps its one normalized score; damping it by alpha would
		// push keyword-only hits under min_score whenever alpha is high.
		score := v + b
		if v > 0 && b > 0 {
			score = opts.Alpha*v + (1-opts.Alpha)*b
		}
		candidates = append(candidates, &recallCandidate{
			memory:   m,
			score:    score,
			vecScore: v,
			bm25:     b,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.score >= opts.MinScore {
			filtered = append(filtered, c)
		}
	}
	candidates = filtered

	if opts.RehearsalEnabled && opts.RehearsalWeight > 0 {
		for _, c := range candidates {
			c.score *= 1 + rehearsalBoost(c.memory, now, opts.RehearsalWeight, opts.RehearsalHalfLifeDays)
		}
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	}

	if opts.GraphEnabled && opts.GraphWeight > 0 && len(candidates) > 0 {
		s.applyGraphBoost(ctx, query, candidates, opts)
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	}

	if opts.RerankEnabled && s.reranker != nil && len(candidates) > 1 {
		s.applyRerank(ctx, query, candidates, opts)
	}

	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	results := make([]types.RecallResult, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	var decisionIDs []string
	for _, c := range candidates {
		source := types.SourceHybrid
		switch {
		case c.vecScore > 0 && c.bm25 > 0:
			source = types.SourceHybrid
		case c.vecScore > 0:
			source = types.SourceVector
		default:
			source = types.SourceKeyword
		}
		results = append(results, shapeResult(c.memory, c.score, source, opts.TruncateChars))
		ids = append(ids, c.memory.ID)
		if c.memory.Type == types.TypeDecision {
			decisionIDs = append(decisionIDs, c.memory.ID)
		}
	}

	// Decisions travel with rationale rows that mention the same
	// entities. Supplementary rows score 0 and never displace a hit.
	if opts.GraphEnabled && len(decisionIDs) > 0 {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		for _, m := range s.rationaleFor(ctx, decisionIDs, 10) {
			if seen[m.ID] {
				continue
			}
			mem := m
			r := shapeResult(&mem, 0, types.SourceGraph, opts.TruncateChars)
			r.Supplementary = true
			results = append(results, r)
		}
	}

	if !opts.SkipAccessBump && len(ids) > 0 {
		if err := s.FinalizeAccess(ctx, ids); err != nil {
			logging.RecallWarn("access bump failed: %v", err)
		}
	}

	logging.Recall("query=%q method=%s candidates=%d returned=%d", query, method, len(union), len(results))
	return &RecallResponse{Results: results, Method: method, Count: len(results)}, nil
}

// rehearsalBoost rewards memories that keep getting recalled, decaying
// by half every halfLife days since the last access.
func rehearsalBoost(m *types.Memory, now time.Time, weight, halfLifeDays float64) float64 {
	if m.AccessCount <= 0 || halfLifeDays <= 0 {
		return 0
	}
	last := m.CreatedAt
	if m.LastAccessed != nil {
		last = *m.LastAccessed
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return weight * math.Log(float64(m.AccessCount)+1) * math.Pow(0.5, days/halfLifeDays)
}

// applyGraphBoost lifts candidates that mention entities from the query:
// s' = (1-w)*s + w. The whole boost runs under its own timeout and is
// skipped outright when the graph is slow.
func (s *Store) applyGraphBoost(ctx context.Context, query string, candidates []*recallCandidate, opts RecallOptions) {
	timeout := opts.GraphTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	boostCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	terms := ftsTokenRe.FindAllString(strings.ToLower(query), 10)
	if len(terms) == 0 {
		return
	}
	boosted, err := s.MemoryIDsMentioning(boostCtx, terms)
	if err != nil {
		logging.RecallDebug("graph boost skipped: %v", err)
		return
	}
	if len(boosted) == 0 {
		return
	}
	w := opts.GraphWeight
	for _, c := range candidates {
		if boosted[c.memory.ID] {
			c.score = (1-w)*c.score + w
		}
	}
}

// applyRerank sends the head of the candidate list to the reranker and
// rewrites those scores as 1 - i/N by reranked position. The reranked
// block keeps precedence over the tail regardless of the tail's fused
// scores. Any failure leaves the fused order untouched.
func (s *Store) applyRerank(ctx context.Context, query string, candidates []*recallCandidate, opts RecallOptions) {
	n := opts.RerankTopN
	if n <= 0 {
		n = 10
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	timeout := opts.RerankTimeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	rerankCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = candidates[i].memory.Content
	}
	order, err := s.reranker.Rerank(rerankCtx, query, docs)
	if err != nil {
		logging.RecallDebug("rerank skipped: %v", err)
		return
	}

	head := make([]*recallCandidate, 0, n)
	used := make(map[int]bool, n)
	for rank, idx := range order {
		if idx < 0 || idx >= n || used[idx] {
			continue
		}
		used[idx] = true
		c := candidates[idx]
		c.score = 1 - float64(rank)/float64(n)
		head = append(head, c)
	}
	// Indexes the reranker dropped keep their fused order at the end of
	// the head block.
	for i := 0; i < n; i++ {
		if !used[i] {
			head = append(head, candidates[i])
		}
	}
	copy(candidates[:n], head)
}

// rationaleFor loads live rationale memories sharing an entity mention
// with any of the given decision ids.
func (s *Store) rationaleFor(ctx context.Context, decisionIDs []string, limit int) []types.Memory {
	if len(decisionIDs) == 0 || limit <= 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(decisionIDs)), ",")
	args := make([]interface{}, 0, len(decisionIDs)+1)
	for _, id := range decisionIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	var out []types.Memory
	err := s.WithReadDB(ctx, func(q DBTX) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+memoryCols+` FROM memories m
			WHERE m.is_deleted = 0 AND m.type = 'rationale'
			  AND m.id IN (
				SELECT em.memory_id FROM entity_mentions em
				WHERE em.entity_id IN (
					SELECT entity_id FROM entity_mentions WHERE memory_id IN (`+placeholders+`)
				)
			  )
			ORDER BY m.created_at DESC LIMIT ?`, args...)
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
	if err != nil {
		logging.RecallDebug("rationale lookup failed: %v", err)
		return nil
	}
	return out
}

// matchesFilters mirrors filterConditions for candidates that arrived
// through the vector pass and never touched the SQL filters.
func matchesFilters(m *types.Memory, f types.RecallFilters) bool {
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if len(f.Tags) > 0 {
		want := types.NormalizeTags(f.Tags)
		have := make(map[string]bool, len(m.Tags))
		for _, t := range m.Tags {
			have[t] = true
		}
		any := false
		for _, t := range want {
			if have[t] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.Who != "" && m.Who != f.Who {
		return false
	}
	if f.Pinned != nil && m.Pinned != *f.Pinned {
		return false
	}
	if f.ImportanceMin != nil && m.Importance < *f.ImportanceMin {
		return false
	}
	if f.Since != nil && m.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && m.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}
