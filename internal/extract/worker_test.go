package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

type fakeProvider struct {
	extraction *Extraction
	err        error
	calls      int
}

func (p *fakeProvider) Extract(_ context.Context, _ string) (*Extraction, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.extraction, nil
}

func (p *fakeProvider) Name() string { return "fake:test" }

func newWorkerHarness(t *testing.T, provider Provider, mutate func(*config.Config)) (*Worker, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Pipeline.Enabled = true
	cfg.Pipeline.Worker.PollMs = 250
	if mutate != nil {
		mutate(cfg)
	}
	return NewWorker(st, provider, cfg), st
}

func enqueue(t *testing.T, st *store.Store, content string) string {
	t.Helper()
	res, err := st.Remember(context.Background(), types.RememberRequest{Content: content},
		store.RememberOptions{EnqueueExtraction: true}, types.MutationContext{ActorType: types.ActorOperator})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	return res.ID
}

func TestWorkerAppliesHighConfidenceFacts(t *testing.T) {
	provider := &fakeProvider{extraction: &Extraction{
		Facts: []Fact{
			{Content: "the project uses sqlite for storage", Confidence: 0.9, Entities: []string{"sqlite"}},
			{Content: "low confidence noise", Confidence: 0.2},
		},
		Entities: []string{"sqlite", "storage"},
	}}
	w, st := newWorkerHarness(t, provider, nil)
	ctx := context.Background()

	sourceID := enqueue(t, st, "we keep everything in sqlite for storage")

	if err := w.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}

	source, err := st.GetMemory(ctx, sourceID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if source.ExtractionStatus != types.ExtractionDone {
		t.Errorf("extraction_status = %q, want done", source.ExtractionStatus)
	}
	if source.ExtractionModel != "fake:test" {
		t.Errorf("extraction_model = %q, want fake:test", source.ExtractionModel)
	}

	// The high-confidence fact landed as a new memory with capped importance.
	memories, _, err := st.ListMemories(ctx, store.ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	var extracted []types.Memory
	for _, m := range memories {
		if m.SourceType == "extraction" {
			extracted = append(extracted, m)
		}
	}
	if len(extracted) != 1 {
		t.Fatalf("expected 1 extracted memory, got %d", len(extracted))
	}
	if extracted[0].Importance > 0.4 {
		t.Errorf("importance = %f, want capped at 0.4", extracted[0].Importance)
	}
	if extracted[0].SourceID != sourceID {
		t.Errorf("source_id = %q, want %q", extracted[0].SourceID, sourceID)
	}

	if done, _ := st.CountJobs(ctx, types.JobDone); done != 1 {
		t.Errorf("done jobs = %d, want 1", done)
	}

	// Entities were marked on the source.
	entities, err := st.EntitiesForMemory(ctx, sourceID)
	if err != nil {
		t.Fatalf("EntitiesForMemory failed: %v", err)
	}
	if len(entities) != 2 {
		t.Errorf("entities on source = %d, want 2", len(entities))
	}
}

func TestWorkerRetriesThenKillsJob(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model offline")}
	w, st := newWorkerHarness(t, provider, func(c *config.Config) {
		c.Pipeline.Worker.MaxRetries = 2
	})
	ctx := context.Background()

	memID := enqueue(t, st, "never going to extract")

	for i := 0; i < 2; i++ {
		if err := w.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
	}

	if dead, _ := st.CountJobs(ctx, types.JobDead); dead != 1 {
		t.Fatalf("dead jobs = %d, want 1 after exhausting retries", dead)
	}
	m, _ := st.GetMemory(ctx, memID)
	if m.ExtractionStatus != types.ExtractionFailed {
		t.Errorf("extraction_status = %q, want failed", m.ExtractionStatus)
	}

	// Nothing left to claim.
	if err := w.Cycle(ctx); err != nil {
		t.Fatalf("idle Cycle failed: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
}

func TestWorkerShadowModeSkipsWrites(t *testing.T) {
	provider := &fakeProvider{extraction: &Extraction{
		Facts: []Fact{{Content: "shadow fact", Confidence: 0.95}},
	}}
	w, st := newWorkerHarness(t, provider, func(c *config.Config) {
		c.Pipeline.ShadowMode = true
	})
	ctx := context.Background()

	enqueue(t, st, "observe but do not touch")

	if err := w.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	_, total, err := st.ListMemories(ctx, store.ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if total != 1 {
		t.Errorf("expected only the source memory in shadow mode, got %d", total)
	}
	if done, _ := st.CountJobs(ctx, types.JobDone); done != 1 {
		t.Errorf("done jobs = %d, want 1 (shadow still completes)", done)
	}
}

func TestWorkerRelationSuppressedWithoutAllowUpdateDelete(t *testing.T) {
	ctx := context.Background()

	w, st := newWorkerHarness(t, nil, nil)
	target, err := st.Remember(ctx, types.RememberRequest{Content: "old fact to supersede"},
		store.RememberOptions{}, types.MutationContext{ActorType: types.ActorOperator})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	provider := &fakeProvider{extraction: &Extraction{
		Facts: []Fact{{
			Content:    "new fact replacing the old one",
			Confidence: 0.9,
			Relation:   &Relation{Kind: types.DecisionUpdate, TargetID: target.ID},
		}},
	}}
	w = NewWorker(st, provider, w.cfg) // same store/config, real provider

	enqueue(t, st, "note proposing a relation")
	if err := w.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	m, _ := st.GetMemory(ctx, target.ID)
	if m.Content != "old fact to supersede" {
		t.Errorf("target mutated despite allowUpdateDelete=false: %q", m.Content)
	}

	// Now allow it and run a second job.
	w.cfg.Pipeline.Autonomous.AllowUpdateDelete = true
	enqueue(t, st, "second note proposing the same relation")
	if err := w.Cycle(ctx); err != nil {
		t.Fatalf("second Cycle failed: %v", err)
	}
	m, _ = st.GetMemory(ctx, target.ID)
	if m.Content != "new fact replacing the old one" {
		t.Errorf("target content = %q, want the update applied", m.Content)
	}
	if m.Version != 2 {
		t.Errorf("target version = %d, want 2 after one mutation", m.Version)
	}
}

func TestWorkerStartStopDoesNotLeak(t *testing.T) {
	// Verify in a Cleanup registered before the harness so it runs after the
	// harness closes its store (Cleanups run LIFO); otherwise database/sql's
	// pool goroutine is still alive when the check runs. opencensus starts a
	// permanent worker goroutine at package init (pulled in transitively); it
	// is not created by Start/Stop, so ignore it.
	t.Cleanup(func() {
		goleak.VerifyNone(t,
			goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
	})

	provider := &fakeProvider{extraction: &Extraction{}}
	w, _ := newWorkerHarness(t, provider, nil)

	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	// Stop twice is safe.
	w.Stop()
}
