// Package diagnostics scores the semantic layer's health. Every check
// is read-only; the fixes it suggests are repair action names the
// operator can run.
package diagnostics

import (
	"context"
	"fmt"
	"strings"

	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
)

type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one named probe's outcome.
type Check struct {
	Name    string  `json:"name"`
	Status  Status  `json:"status"`
	Message string  `json:"message"`
	Detail  string  `json:"detail,omitempty"`
	Fix     string  `json:"fix,omitempty"`
	Weight  float64 `json:"weight"`
}

// Report aggregates the checks into one weighted score. Score 0.8 and
// above reads healthy, 0.5 and above degraded, below that unhealthy.
type Report struct {
	Status string  `json:"status"`
	Score  float64 `json:"score"`
	Checks []Check `json:"checks"`
}

const (
	weightProvider  = 0.25
	weightCoverage  = 0.20
	weightDimension = 0.15
	weightDrift     = 0.10
	weightNull      = 0.10
	weightParity    = 0.10
	weightOrphans   = 0.10
)

// Runner executes the check suite against one store and one embedding
// client.
type Runner struct {
	store  *store.Store
	client *embedding.Client
}

func New(st *store.Store, client *embedding.Client) *Runner {
	return &Runner{store: st, client: client}
}

// Run executes every check and folds them into the weighted report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	health, err := r.store.CollectEmbeddingHealth(ctx)
	if err != nil {
		return nil, err
	}
	avail := r.client.Available(ctx)

	checks := []Check{
		r.checkProvider(avail),
		r.checkCoverage(health),
		r.checkDimensions(health, avail),
		r.checkModelDrift(health),
		r.checkNullVectors(health),
		r.checkVecParity(health),
		r.checkOrphans(health),
	}

	score := 0.0
	for _, c := range checks {
		score += c.Weight * statusScore(c.Status)
	}

	report := &Report{Score: score, Checks: checks}
	switch {
	case score >= 0.8:
		report.Status = "healthy"
	case score >= 0.5:
		report.Status = "degraded"
	default:
		report.Status = "unhealthy"
	}
	logging.Diag("health %s (score %.2f)", report.Status, score)
	return report, nil
}

func statusScore(s Status) float64 {
	switch s {
	case StatusOK:
		return 1
	case StatusWarn:
		return 0.5
	default:
		return 0
	}
}

func (r *Runner) checkProvider(avail embedding.Availability) Check {
	c := Check{Name: "provider_reachable", Weight: weightProvider}
	if !avail.Available {
		c.Status = StatusFail
		c.Message = "embedding provider unreachable"
		c.Detail = avail.Error
		c.Fix = "check the embedding provider process and baseUrl"
		return c
	}
	c.Status = StatusOK
	c.Message = fmt.Sprintf("provider %s reachable (%d dims)", r.client.Model(), avail.Dimensions)
	return c
}

func (r *Runner) checkCoverage(h *store.EmbeddingHealth) Check {
	c := Check{Name: "embedding_coverage", Weight: weightCoverage}
	if h.ActiveMemories == 0 {
		c.Status = StatusOK
		c.Message = "no active memories"
		return c
	}
	ratio := float64(h.Embedded) / float64(h.ActiveMemories)
	c.Message = fmt.Sprintf("%d of %d active memories embedded (%.0f%%)",
		h.Embedded, h.ActiveMemories, ratio*100)
	switch {
	case ratio >= 0.9:
		c.Status = StatusOK
	case ratio >= 0.5:
		c.Status = StatusWarn
		c.Fix = "run repair action reembedMissingMemories"
	default:
		c.Status = StatusFail
		c.Fix = "run repair action reembedMissingMemories"
	}
	return c
}

func (r *Runner) checkDimensions(h *store.EmbeddingHealth, avail embedding.Availability) Check {
	c := Check{Name: "dimension_mismatch", Weight: weightDimension}
	expected := avail.Dimensions
	if expected == 0 {
		expected = r.client.Dimensions()
	}
	if expected == 0 || h.EmbeddingRows == 0 {
		c.Status = StatusOK
		c.Message = "no expected dimensionality to compare against"
		return c
	}
	mismatched := 0
	for dims, n := range h.Dimensions {
		if dims != expected {
			mismatched += n
		}
	}
	if mismatched > 0 {
		c.Status = StatusFail
		c.Message = fmt.Sprintf("%d embeddings differ from the configured %d dimensions", mismatched, expected)
		c.Fix = "run repair action reembedMissingMemories after clearing mismatched rows"
		return c
	}
	c.Status = StatusOK
	c.Message = fmt.Sprintf("all %d embeddings at %d dimensions", h.EmbeddingRows, expected)
	return c
}

func (r *Runner) checkModelDrift(h *store.EmbeddingHealth) Check {
	c := Check{Name: "model_drift", Weight: weightDrift}
	if len(h.Models) > 1 {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("%d distinct embedding models in use", len(h.Models))
		c.Detail = strings.Join(h.Models, ", ")
		c.Fix = "the tracker converges drifted rows; verify the configured model"
		return c
	}
	c.Status = StatusOK
	c.Message = "single embedding model in use"
	return c
}

func (r *Runner) checkNullVectors(h *store.EmbeddingHealth) Check {
	c := Check{Name: "null_vectors", Weight: weightNull}
	if h.NullVectors > 0 {
		c.Status = StatusFail
		c.Message = fmt.Sprintf("%d embeddings with empty vectors", h.NullVectors)
		c.Fix = "run repair action reembedMissingMemories"
		return c
	}
	c.Status = StatusOK
	c.Message = "no empty vectors"
	return c
}

func (r *Runner) checkVecParity(h *store.EmbeddingHealth) Check {
	c := Check{Name: "vec_index_parity", Weight: weightParity}
	if !h.VecAvailable {
		c.Status = StatusOK
		c.Message = "vec0 unavailable; brute-force scan in use"
		return c
	}
	if h.VecRows != h.EmbeddingRows {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("vec index holds %d rows, embeddings table %d", h.VecRows, h.EmbeddingRows)
		c.Fix = "re-embedding rebuilds the vec mirror"
		return c
	}
	c.Status = StatusOK
	c.Message = fmt.Sprintf("vec index in sync (%d rows)", h.VecRows)
	return c
}

func (r *Runner) checkOrphans(h *store.EmbeddingHealth) Check {
	c := Check{Name: "orphaned_embeddings", Weight: weightOrphans}
	if h.Orphaned > 0 {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("%d embeddings reference missing or deleted memories", h.Orphaned)
		c.Fix = "run repair action triggerRetentionSweep"
		return c
	}
	c.Status = StatusOK
	c.Message = "no orphaned embeddings"
	return c
}
