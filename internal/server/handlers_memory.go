package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

func (s *Server) rememberOptions() store.RememberOptions {
	return store.RememberOptions{
		MaxContentChars:   s.cfg.Pipeline.Guardrails.MaxContentChars,
		EnqueueExtraction: s.cfg.Pipeline.Enabled,
		EmbedModel:        s.client.Model(),
	}
}

func (s *Server) recallOptions(limit int) store.RecallOptions {
	return store.RecallOptions{
		Alpha:                 s.cfg.Search.Alpha,
		TopK:                  s.cfg.Search.TopK,
		MinScore:              s.cfg.Search.MinScore,
		Limit:                 limit,
		RehearsalEnabled:      s.cfg.Search.RehearsalEnabled,
		RehearsalWeight:       s.cfg.Search.RehearsalWeight,
		RehearsalHalfLifeDays: s.cfg.Search.RehearsalHalfLifeDays,
		GraphEnabled:          s.cfg.Pipeline.Graph.Enabled,
		GraphWeight:           s.cfg.Pipeline.Graph.BoostWeight,
		GraphTimeout:          s.cfg.GraphBoostTimeout(),
		RerankEnabled:         s.cfg.Pipeline.Reranker.Enabled,
		RerankTopN:            s.cfg.Pipeline.Reranker.TopN,
		RerankTimeout:         s.cfg.RerankerTimeout(),
		TruncateChars:         s.cfg.Pipeline.Guardrails.RecallTruncateChars,
	}
}

func (s *Server) mutationContext(r *http.Request, actorType, sessionKey string) types.MutationContext {
	if actorType == "" {
		actorType = types.ActorAgent
	}
	return types.MutationContext{
		ActorType: actorType,
		SessionID: sessionKey,
		RequestID: requestID(r),
	}
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req types.RememberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.store.Remember(r.Context(), req, s.rememberOptions(),
		s.mutationContext(r, types.ActorAgent, req.SessionKey))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionKey != "" {
		s.sessions.Tracker().RecordRemember(req.SessionKey, res.Content)
	}
	writeJSON(w, http.StatusOK, res)
}

type recallRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	SessionKey string `json:"sessionKey,omitempty"`

	Type          string     `json:"type,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Who           string     `json:"who,omitempty"`
	Pinned        *bool      `json:"pinned,omitempty"`
	ImportanceMin *float64   `json:"importance_min,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
}

func (req *recallRequest) filters() types.RecallFilters {
	return types.RecallFilters{
		Type:          req.Type,
		Tags:          req.Tags,
		Who:           req.Who,
		Pinned:        req.Pinned,
		ImportanceMin: req.ImportanceMin,
		Since:         req.Since,
		Until:         req.Until,
	}
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, types.E(types.KindBadRequest, "query is empty"))
		return
	}

	resp, err := s.store.Recall(r.Context(), req.Query, req.filters(), s.recallOptions(req.Limit))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.SessionKey != "" {
		s.sessions.Tracker().RecordQuery(req.SessionKey, req.Query)
		candidates := make([]types.SessionCandidate, 0, len(resp.Results))
		for _, res := range resp.Results {
			candidates = append(candidates, types.SessionCandidate{
				SessionKey: req.SessionKey,
				MemoryID:   res.ID,
				Score:      res.Score,
				Source:     res.Source,
			})
		}
		if err := s.store.RecordSessionCandidates(r.Context(), req.SessionKey, candidates); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": resp.Results,
		"query":   req.Query,
		"method":  resp.Method,
		"count":   resp.Count,
	})
}

type forgetRequest struct {
	ID        string `json:"id"`
	Force     bool   `json:"force,omitempty"`
	ActorType string `json:"actorType,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IfVersion *int64 `json:"ifVersion,omitempty"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, types.E(types.KindBadRequest, "id is required"))
		return
	}

	out, err := s.store.Forget(r.Context(), store.ForgetParams{
		ID:              req.ID,
		ExpectedVersion: req.IfVersion,
		Force:           req.Force,
		Reason:          req.Reason,
	}, s.mutationContext(r, req.ActorType, ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := forgetStatusError(req.ID, out.Status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     req.ID,
		"status": out.Status,
		"memory": out.Memory,
	})
}

func forgetStatusError(id string, status types.ForgetStatus) error {
	switch status {
	case types.ForgetDeleted, types.ForgetAlreadyDeleted:
		return nil
	case types.ForgetNotFound:
		return types.Ef(types.KindNotFound, "memory %s not found", id)
	case types.ForgetVersionConflict:
		return types.Ef(types.KindVersionConflict, "memory %s changed underneath the request", id)
	case types.ForgetPinnedNeedsForce:
		return types.Ef(types.KindPinnedRequiresForce, "memory %s is pinned; pass force=true", id)
	case types.ForgetAutonomousDenied:
		return types.Ef(types.KindAutonomousDenied, "only an operator may force-delete pinned memory %s", id)
	default:
		return types.Ef(types.KindInternal, "unexpected forget status %q", status)
	}
}

type recoverRequest struct {
	ID        string `json:"id"`
	ActorType string `json:"actorType,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IfVersion *int64 `json:"ifVersion,omitempty"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, types.E(types.KindBadRequest, "id is required"))
		return
	}

	out, err := s.store.Recover(r.Context(), store.RecoverParams{
		ID:              req.ID,
		ExpectedVersion: req.IfVersion,
		Reason:          req.Reason,
	}, s.cfg.RetentionWindow(), s.mutationContext(r, req.ActorType, ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := recoverStatusError(req.ID, out.Status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     req.ID,
		"status": out.Status,
		"memory": out.Memory,
	})
}

func recoverStatusError(id string, status types.RecoverStatus) error {
	switch status {
	case types.RecoverRecovered, types.RecoverNotDeleted:
		return nil
	case types.RecoverNotFound:
		return types.Ef(types.KindNotFound, "memory %s not found", id)
	case types.RecoverVersionConflict:
		return types.Ef(types.KindVersionConflict, "memory %s changed underneath the request", id)
	case types.RecoverRetentionExpired:
		return types.Ef(types.KindRetentionExpired, "memory %s is past the retention window", id)
	default:
		return types.Ef(types.KindInternal, "unexpected recover status %q", status)
	}
}

type modifyRequest struct {
	ID         string    `json:"id"`
	Content    *string   `json:"content,omitempty"`
	Type       *string   `json:"type,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Importance *float64  `json:"importance,omitempty"`
	Pinned     *bool     `json:"pinned,omitempty"`
	Who        *string   `json:"who,omitempty"`
	Why        *string   `json:"why,omitempty"`
	Project    *string   `json:"project,omitempty"`
	IfVersion  *int64    `json:"ifVersion,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ActorType  string    `json:"actorType,omitempty"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, r, types.E(types.KindBadRequest, "id is required"))
		return
	}

	out, err := s.store.Modify(r.Context(), store.ModifyParams{
		ID:              req.ID,
		Content:         req.Content,
		Type:            req.Type,
		Tags:            req.Tags,
		Importance:      req.Importance,
		Pinned:          req.Pinned,
		Who:             req.Who,
		Why:             req.Why,
		Project:         req.Project,
		ExpectedVersion: req.IfVersion,
		Reason:          req.Reason,
	}, s.mutationContext(r, req.ActorType, ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := modifyStatusError(req.ID, out.Status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     req.ID,
		"status": out.Status,
		"memory": out.Memory,
	})
}

func modifyStatusError(id string, status types.ModifyStatus) error {
	switch status {
	case types.ModifyUpdated, types.ModifyNoChanges:
		return nil
	case types.ModifyNotFound, types.ModifyDeleted:
		return types.Ef(types.KindNotFound, "memory %s not found", id)
	case types.ModifyVersionConflict:
		return types.Ef(types.KindVersionConflict, "memory %s changed underneath the request", id)
	case types.ModifyDuplicateContent:
		return types.Ef(types.KindDuplicateContentHash, "another live memory already holds that content")
	default:
		return types.Ef(types.KindInternal, "unexpected modify status %q", status)
	}
}

// handleSearch is the keyword+filter shortcut. No vector pass runs, so
// it stays fast regardless of provider state.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, r, types.E(types.KindBadRequest, "q is required"))
		return
	}

	filters, err := filtersFromQuery(q.Get("type"), q.Get("tags"), q.Get("who"),
		q.Get("pinned"), q.Get("importance_min"), q.Get("since"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	results, err := s.store.KeywordSearch(r.Context(), query, filters, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if key := q.Get("sessionKey"); key != "" {
		ids := make([]string, len(results))
		for i, res := range results {
			ids[i] = res.ID
		}
		if err := s.store.TrackFtsHits(r.Context(), key, ids); err != nil {
			writeError(w, r, err)
			return
		}
		s.sessions.Tracker().RecordQuery(key, query)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func filtersFromQuery(typ, tags, who, pinned, importanceMin, since string) (types.RecallFilters, error) {
	f := types.RecallFilters{Type: typ, Who: who}
	if tags != "" {
		f.Tags = types.SplitTags(tags)
	}
	if pinned != "" {
		v := pinned == "1" || strings.EqualFold(pinned, "true")
		f.Pinned = &v
	}
	if importanceMin != "" {
		v, err := strconv.ParseFloat(importanceMin, 64)
		if err != nil {
			return f, types.Ef(types.KindBadRequest, "bad importance_min %q", importanceMin)
		}
		f.ImportanceMin = &v
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, types.Ef(types.KindBadRequest, "bad since timestamp %q", since)
		}
		f.Since = &t
	}
	return f, nil
}

type similarResult struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Similarity float64  `json:"similarity"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	Pinned     bool     `json:"pinned"`
	Importance float64  `json:"importance"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, r, types.E(types.KindBadRequest, "id is required"))
		return
	}
	k, _ := strconv.Atoi(q.Get("k"))
	if k <= 0 {
		k = 10
	}
	typeFilter := q.Get("type")

	hits, err := s.store.SimilarToMemory(r.Context(), id, k)
	if err != nil {
		writeError(w, r, err)
		return
	}

	results := make([]similarResult, 0, len(hits))
	for _, hit := range hits {
		m, err := s.store.GetMemory(r.Context(), hit.MemoryID)
		if err != nil {
			continue
		}
		if typeFilter != "" && m.Type != typeFilter {
			continue
		}
		results = append(results, similarResult{
			ID:         m.ID,
			Content:    m.Content,
			Similarity: hit.Similarity,
			Type:       m.Type,
			Tags:       m.Tags,
			Pinned:     m.Pinned,
			Importance: m.Importance,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	params := store.ListParams{
		Type:    q.Get("type"),
		Tag:     q.Get("tag"),
		Who:     q.Get("who"),
		Project: q.Get("project"),
		Limit:   limit,
		Offset:  offset,
	}
	switch q.Get("deleted") {
	case "only":
		params.DeletedOnly = true
	case "include":
		params.IncludeDeleted = true
	}
	if q.Get("pinned") == "1" {
		params.PinnedOnly = true
	}

	memories, total, err := s.store.ListMemories(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.store.CollectStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
		"stats":    stats,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetMemory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.store.HistoryForMemory(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"events": events,
	})
}
