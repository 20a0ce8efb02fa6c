package server

import (
	"net/http"
	"time"

	"github.com/signetai/signet/internal/repair"
	"github.com/signetai/signet/internal/types"
)

type repairRequest struct {
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
	ActorType string `json:"actorType,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
	Repair    bool   `json:"repair,omitempty"`
	MaxBatch  int    `json:"maxBatch,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

// handleRepair runs one gated action. Gate denials still return the
// action result body so callers see success=false with the reason,
// under the taxonomy status for the denial.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.repairs.Run(r.Context(), repair.Request{
		Action:    r.PathValue("action"),
		ActorType: req.ActorType,
		Reason:    req.Reason,
		DryRun:    req.DryRun,
		Repair:    req.Repair,
		MaxBatch:  req.MaxBatch,
		BatchSize: req.BatchSize,
	})
	if res == nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = types.HTTPStatus(types.KindOf(err))
	}
	writeJSON(w, status, res)
}

func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	avail := s.client.Available(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available":  avail.Available,
		"model":      s.client.Model(),
		"dimensions": avail.Dimensions,
		"error":      avail.Error,
	})
}

func (s *Server) handleEmbeddingHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.diags.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports uptime, store counters, queue depth, and a
// sanitized config echo. API keys never leave the process.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CollectStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	pending, err := s.store.CountJobs(r.Context(), types.JobPending)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt) / time.Second),
		"stats":          stats,
		"queue_depth":    pending,
		"embedding": map[string]interface{}{
			"model":     s.client.Model(),
			"available": s.client.Available(r.Context()).Available,
		},
		"config": map[string]interface{}{
			"search": map[string]interface{}{
				"alpha":     s.cfg.Search.Alpha,
				"top_k":     s.cfg.Search.TopK,
				"min_score": s.cfg.Search.MinScore,
			},
			"pipeline": map[string]interface{}{
				"enabled":     s.cfg.Pipeline.Enabled,
				"shadow_mode": s.cfg.Pipeline.ShadowMode,
				"autonomous":  s.cfg.Pipeline.Autonomous.Enabled,
				"frozen":      s.cfg.Pipeline.Autonomous.Frozen,
			},
			"retention_days": s.cfg.Retention.WindowDays,
		},
	})
}
