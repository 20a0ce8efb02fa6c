package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

// Worker drains the extraction job queue one lease at a time. It is a
// cooperative loop: each tick claims at most one job, calls the provider
// under the configured timeout, and applies the result through the
// store's closures with actor_type=pipeline.
type Worker struct {
	store    *store.Store
	provider Provider
	cfg      *config.Config

	stop chan struct{}
	done chan struct{}
}

// NewWorker wires a worker. It does not start the loop.
func NewWorker(st *store.Store, provider Provider, cfg *config.Config) *Worker {
	return &Worker{store: st, provider: provider, cfg: cfg}
}

// Start launches the polling loop. Calling Start twice is a no-op.
func (w *Worker) Start() {
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stop, w.done)
	logging.Worker("extraction worker started (poll=%s provider=%s)", w.cfg.WorkerPollInterval(), w.provider.Name())
}

// Stop signals the loop and waits for the in-flight cycle to finish.
func (w *Worker) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
	w.done = nil
	logging.Worker("extraction worker stopped")
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.WorkerPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.safeCycle()
		}
	}
}

// safeCycle runs one cycle under a panic guard; a bad provider response
// must not kill the loop.
func (w *Worker) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			logging.WorkerError("extraction cycle panicked: %v\n%s", r, debug.Stack())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ExtractionTimeout()+10*time.Second)
	defer cancel()

	if err := w.Cycle(ctx); err != nil {
		logging.WorkerWarn("extraction cycle failed: %v", err)
	}
}

// Cycle claims and processes at most one job. Exported so tests and the
// maintenance path can drive the worker without the timer.
func (w *Worker) Cycle(ctx context.Context) error {
	job, err := w.store.ClaimJob(ctx, w.cfg.LeaseTimeout())
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return nil
	}
	return w.processJob(ctx, job)
}

func (w *Worker) processJob(ctx context.Context, job *types.MemoryJob) error {
	memory, err := w.store.GetMemory(ctx, job.MemoryID)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			// The memory vanished under the job; close it out.
			return w.store.CompleteJob(ctx, job.ID, job.MemoryID, "")
		}
		return w.store.FailJob(ctx, job.ID, job.MemoryID, w.cfg.Pipeline.Worker.MaxRetries, err.Error())
	}
	if memory.IsDeleted {
		return w.store.CompleteJob(ctx, job.ID, job.MemoryID, "")
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ExtractionTimeout())
	extraction, err := w.provider.Extract(callCtx, memory.Content)
	cancel()
	if err != nil {
		logging.WorkerWarn("extraction failed for %s (attempt %d): %v", memory.ID, job.Attempts, err)
		return w.store.FailJob(ctx, job.ID, job.MemoryID, w.cfg.Pipeline.Worker.MaxRetries, err.Error())
	}

	if w.cfg.Pipeline.ShadowMode {
		logging.Worker("[shadow] %s: %d facts, %d entities (no writes)", memory.ID, len(extraction.Facts), len(extraction.Entities))
		return w.store.CompleteJob(ctx, job.ID, job.MemoryID, w.provider.Name())
	}
	if w.cfg.Pipeline.MutationsFrozen {
		logging.Worker("[frozen] %s: discarding %d facts", memory.ID, len(extraction.Facts))
		return w.store.CompleteJob(ctx, job.ID, job.MemoryID, w.provider.Name())
	}

	w.apply(ctx, memory, extraction)
	return w.store.CompleteJob(ctx, job.ID, job.MemoryID, w.provider.Name())
}

// apply writes the accepted facts. Individual failures are logged and
// skipped so one bad fact cannot poison the batch; the job still
// completes because retrying the provider would reproduce them.
func (w *Worker) apply(ctx context.Context, source *types.Memory, extraction *Extraction) {
	mc := types.MutationContext{ActorType: types.ActorPipeline, RequestID: source.ID}
	minConfidence := w.cfg.Pipeline.Extraction.MinConfidence

	if len(extraction.Entities) > 0 {
		if err := w.store.UpsertEntityMentions(ctx, source.ID, extraction.Entities); err != nil {
			logging.WorkerWarn("entity mentions for %s failed: %v", source.ID, err)
		}
	}

	accepted := 0
	for _, fact := range extraction.Facts {
		if fact.Confidence < minConfidence || fact.Content == "" {
			continue
		}

		if fact.Relation != nil {
			if !w.cfg.Pipeline.Autonomous.AllowUpdateDelete {
				logging.WorkerDebug("relation %s on %s suppressed (allowUpdateDelete=false)", fact.Relation.Kind, fact.Relation.TargetID)
				continue
			}
			outcome, err := w.store.ApplyDecision(ctx, store.DecisionParams{
				Kind:       fact.Relation.Kind,
				TargetID:   fact.Relation.TargetID,
				SourceID:   source.ID,
				NewContent: fact.Content,
				Confidence: fact.Confidence,
				Model:      w.provider.Name(),
				Reason:     "extraction relation",
			}, mc)
			if err != nil {
				logging.WorkerWarn("decision %s on %s failed: %v", fact.Relation.Kind, fact.Relation.TargetID, err)
				continue
			}
			logging.WorkerDebug("decision %s on %s: %s", fact.Relation.Kind, fact.Relation.TargetID, outcome.Status)
			accepted++
			continue
		}

		factType := fact.Type
		if factType == "" {
			factType = store.InferType(fact.Content)
		}
		importance := fact.Confidence
		if importance > 0.4 {
			// Extracted facts never outrank operator-written memories.
			importance = 0.4
		}
		memory, dedup, err := w.store.Ingest(ctx, store.IngestParams{
			Content:    fact.Content,
			Type:       factType,
			Importance: importance,
			Who:        types.ActorPipeline,
			SourceType: "extraction",
			SourceID:   source.ID,
		}, mc)
		if err != nil {
			logging.WorkerWarn("fact ingest failed: %v", err)
			continue
		}
		if !dedup && len(fact.Entities) > 0 {
			if err := w.store.UpsertEntityMentions(ctx, memory.ID, fact.Entities); err != nil {
				logging.WorkerWarn("fact entity mentions failed: %v", err)
			}
		}
		accepted++
	}

	logging.Worker("extracted %s: %d/%d facts accepted", source.ID, accepted, len(extraction.Facts))
}
