// Package tracker backfills embeddings. Rows can lack a vector because
// the provider was down at write time, because content changed, or
// because the configured model changed; the tracker finds them on a
// self-scheduled loop and repairs them in one batched transaction per
// cycle.
package tracker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

const (
	defaultInterval  = 45 * time.Second
	defaultBatchSize = 32
)

// Tracker is the embedding backfill loop. The timer is re-armed only
// after a cycle completes, so a slow provider naturally stretches the
// interval instead of stacking cycles.
type Tracker struct {
	store  *store.Store
	client *embedding.Client

	interval  time.Duration
	batchSize int

	stop chan struct{}
	done chan struct{}
}

// New wires a tracker with the stock interval and batch size.
func New(st *store.Store, client *embedding.Client) *Tracker {
	return &Tracker{
		store:     st,
		client:    client,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
}

// SetInterval overrides the cycle interval. Tests shrink it.
func (t *Tracker) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// Start launches the loop. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
	logging.Tracker("embedding tracker started (interval=%s batch=%d)", t.interval, t.batchSize)
}

// Stop signals the loop and waits for the in-flight cycle.
func (t *Tracker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop = nil
	t.done = nil
	logging.Tracker("embedding tracker stopped")
}

func (t *Tracker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			t.safeCycle()
			timer.Reset(t.interval)
		}
	}
}

func (t *Tracker) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			logging.TrackerError("tracker cycle panicked: %v\n%s", r, debug.Stack())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if n, err := t.Cycle(ctx); err != nil {
		logging.TrackerWarn("tracker cycle failed: %v", err)
	} else if n > 0 {
		logging.Tracker("backfilled %d embeddings", n)
	}
}

// Cycle runs one backfill pass and reports how many vectors it wrote.
// Vectors are fetched outside any transaction; the writes land in one
// batched transaction at the end.
func (t *Tracker) Cycle(ctx context.Context) (int, error) {
	avail := t.client.Available(ctx)
	if !avail.Available {
		logging.TrackerDebug("provider unavailable, skipping cycle: %s", avail.Error)
		return 0, nil
	}

	candidates, err := t.collect(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	texts := make([]string, len(candidates))
	for i, m := range candidates {
		texts[i] = m.Content
	}
	vectors := t.client.EmbedBatchOrNil(ctx, texts)

	model := t.client.Model()
	items := make([]store.EmbeddingItem, 0, len(candidates))
	for i, m := range candidates {
		if vectors[i] == nil {
			continue
		}
		items = append(items, store.EmbeddingItem{
			MemoryID:    m.ID,
			ContentHash: m.ContentHash,
			Vector:      vectors[i],
			ChunkText:   m.Content,
			Model:       model,
		})
	}
	if len(items) == 0 {
		return 0, nil
	}
	return t.store.UpsertEmbeddingBatch(ctx, items)
}

// collect gathers rows needing work: no vector at all, a vector built
// from stale content, or a vector from a different model than config.
func (t *Tracker) collect(ctx context.Context) ([]types.Memory, error) {
	seen := make(map[string]bool)
	var out []types.Memory

	missing, err := t.store.MissingEmbeddings(ctx, t.batchSize)
	if err != nil {
		return nil, err
	}
	for _, m := range missing {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}

	if len(out) < t.batchSize {
		stale, err := t.store.StaleEmbeddings(ctx, t.batchSize-len(out))
		if err != nil {
			return nil, err
		}
		for _, m := range stale {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}

	if model := t.client.Model(); model != "" && len(out) < t.batchSize {
		drifted, err := t.store.DriftedEmbeddings(ctx, model, t.batchSize-len(out))
		if err != nil {
			return nil, err
		}
		for _, m := range drifted {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}

	return out, nil
}
