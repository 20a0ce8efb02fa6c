// Package repair exposes the gated maintenance actions: requeueing dead
// jobs, releasing stale leases, FTS consistency checks, retention
// sweeps, re-embedding, and low-value pruning. Every action passes a
// policy gate and a per-action rate limit before it touches the store,
// and every run leaves a synthetic history event behind.
package repair

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

// Request names an action and who is asking for it. MaxBatch, BatchSize,
// Repair, and DryRun are interpreted per action and ignored elsewhere.
type Request struct {
	Action    string `json:"action"`
	ActorType string `json:"actorType"`
	Reason    string `json:"reason"`
	MaxBatch  int    `json:"maxBatch,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
	Repair    bool   `json:"repair,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
}

// Result reports one action's outcome. Success is false when a gate
// denied the run; the error returned alongside carries the taxonomy kind.
type Result struct {
	Action   string `json:"action"`
	Success  bool   `json:"success"`
	Affected int    `json:"affected"`
	Message  string `json:"message"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

type actionFunc func(ctx context.Context, r *Registry, req Request) (affected int, message string, err error)

type actionSpec struct {
	cooldown func(*config.Config) time.Duration
	budget   func(*config.Config) int
	run      actionFunc
}

func requeueCooldown(c *config.Config) time.Duration {
	return time.Duration(c.Pipeline.Repair.RequeueCooldownMs) * time.Millisecond
}

func requeueBudget(c *config.Config) int { return c.Pipeline.Repair.RequeueHourlyBudget }

func reembedCooldown(c *config.Config) time.Duration {
	return time.Duration(c.Pipeline.Repair.ReembedCooldownMs) * time.Millisecond
}

func reembedBudget(c *config.Config) int { return c.Pipeline.Repair.ReembedHourlyBudget }

func fixed(d time.Duration, n int) (func(*config.Config) time.Duration, func(*config.Config) int) {
	return func(*config.Config) time.Duration { return d }, func(*config.Config) int { return n }
}

var actions = map[string]actionSpec{
	"requeueDeadJobs": {
		cooldown: requeueCooldown, budget: requeueBudget, run: runRequeueDeadJobs,
	},
	"releaseStaleLeases": {
		cooldown: requeueCooldown, budget: requeueBudget, run: runReleaseStaleLeases,
	},
	"reembedMissingMemories": {
		cooldown: reembedCooldown, budget: reembedBudget, run: runReembedMissing,
	},
	"checkFtsConsistency":   specWith(runCheckFts, 30*time.Second, 20),
	"triggerRetentionSweep": specWith(runRetentionSweep, time.Minute, 12),
	"pruneLowValueMemories": specWith(runPruneLowValue, 5*time.Minute, 4),
}

func specWith(fn actionFunc, cooldown time.Duration, budget int) actionSpec {
	c, b := fixed(cooldown, budget)
	return actionSpec{cooldown: c, budget: b, run: fn}
}

// Registry holds the per-action limiter state and the handles actions
// operate on. One registry per daemon; the HTTP surface and the
// maintenance loop share it so their budgets are shared too.
type Registry struct {
	store  *store.Store
	client *embedding.Client
	cfg    *config.Config
	now    func() time.Time

	mu     sync.Mutex
	limits map[string]*limiter
}

// New builds a registry over the store, the embedding client, and the
// live config. The client may wrap a nil engine.
func New(st *store.Store, client *embedding.Client, cfg *config.Config) *Registry {
	return &Registry{
		store:  st,
		client: client,
		cfg:    cfg,
		now:    time.Now,
		limits: make(map[string]*limiter),
	}
}

// SetClock overrides the limiter clock. Tests use it to cross cooldowns
// without sleeping.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Actions lists the registered action names.
func (r *Registry) Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	return names
}

// Run executes one action end to end: gate, rate limit, the action
// itself, then the audit event. The Result is non-nil whenever the
// action name resolved, even when a gate denied it.
func (r *Registry) Run(ctx context.Context, req Request) (*Result, error) {
	spec, ok := actions[req.Action]
	if !ok {
		return nil, types.Ef(types.KindNotFound, "unknown repair action %q", req.Action)
	}

	res := &Result{Action: req.Action, DryRun: req.DryRun}
	actor := req.ActorType
	if actor == "" {
		actor = types.ActorAgent
	}

	if err := r.gate(actor); err != nil {
		res.Message = err.Error()
		return res, err
	}
	if err := r.admit(req.Action, spec); err != nil {
		res.Message = err.Error()
		logging.RepairDebug("%s denied for %s: %v", req.Action, actor, err)
		return res, err
	}

	affected, message, err := spec.run(ctx, r, req)
	if err != nil {
		res.Message = err.Error()
		logging.RepairError("%s failed: %v", req.Action, err)
		return res, err
	}
	res.Success = true
	res.Affected = affected
	res.Message = message
	logging.Repair("%s by %s: %s", req.Action, actor, message)

	if err := r.store.RecordSystemEvent(ctx, "repair_action", req.Reason, map[string]interface{}{
		"action":   req.Action,
		"affected": affected,
		"actor":    actor,
	}, types.MutationContext{ActorType: actor}); err != nil {
		logging.RepairWarn("audit event for %s failed: %v", req.Action, err)
	}
	return res, nil
}

// gate applies the autonomy policy. Frozen denies everyone. With
// autonomy disabled, only operators get through; agents, the pipeline,
// and the daemon all wait for the flag.
func (r *Registry) gate(actor string) error {
	auto := r.cfg.Pipeline.Autonomous
	if auto.Frozen {
		return types.E(types.KindPolicyDenied, "autonomous actions are frozen")
	}
	if !auto.Enabled && actor != types.ActorOperator {
		return types.Ef(types.KindPolicyDenied, "autonomous actions are disabled for actor %q", actor)
	}
	return nil
}

func (r *Registry) admit(name string, spec actionSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.limits[name]
	if l == nil {
		l = &limiter{}
		r.limits[name] = l
	}
	return l.admit(r.now(), spec.cooldown(r.cfg), spec.budget(r.cfg))
}

func runRequeueDeadJobs(ctx context.Context, r *Registry, req Request) (int, string, error) {
	max := req.MaxBatch
	if max <= 0 {
		max = 50
	}
	n, err := r.store.RequeueDeadJobs(ctx, max)
	if err != nil {
		return 0, "", err
	}
	return n, fmt.Sprintf("requeued %d dead jobs", n), nil
}

func runReleaseStaleLeases(ctx context.Context, r *Registry, _ Request) (int, string, error) {
	n, err := r.store.ReleaseStaleLeases(ctx, r.cfg.LeaseTimeout())
	if err != nil {
		return 0, "", err
	}
	return n, fmt.Sprintf("released %d stale leases", n), nil
}

// runCheckFts compares active memory rows against the FTS index. The
// index keeps tombstones until a merge, so only a drift above 10% of
// the active count reads as a real mismatch.
func runCheckFts(ctx context.Context, r *Registry, req Request) (int, string, error) {
	memRows, ftsRows, err := r.store.FTSConsistency(ctx)
	if err != nil {
		return 0, "", err
	}
	drift := ftsRows - memRows
	if drift < 0 {
		drift = -drift
	}
	mismatched := float64(drift) > 0.1*float64(memRows)
	if memRows == 0 {
		mismatched = ftsRows > 0
	}
	if !mismatched {
		return 0, fmt.Sprintf("fts index consistent (%d memories, %d fts rows)", memRows, ftsRows), nil
	}
	if !req.Repair {
		return drift, fmt.Sprintf("fts index drifted by %d rows (%d memories, %d fts rows); pass repair=true to rebuild",
			drift, memRows, ftsRows), nil
	}
	if err := r.store.RebuildFTS(ctx); err != nil {
		return 0, "", err
	}
	return drift, fmt.Sprintf("rebuilt fts index (drift was %d rows)", drift), nil
}

func runRetentionSweep(ctx context.Context, r *Registry, _ Request) (int, string, error) {
	n, err := r.store.SweepExpired(ctx, r.cfg.RetentionWindow(), 500)
	if err != nil {
		return n, "", err
	}
	return n, fmt.Sprintf("hard-deleted %d expired memories", n), nil
}

// runReembedMissing fetches vectors outside any transaction, then lands
// them in one batched write. DryRun reports the backlog without calling
// the provider.
func runReembedMissing(ctx context.Context, r *Registry, req Request) (int, string, error) {
	batch := req.BatchSize
	if batch <= 0 {
		batch = 32
	}
	missing, err := r.store.MissingEmbeddings(ctx, batch)
	if err != nil {
		return 0, "", err
	}
	if len(missing) == 0 {
		return 0, "no unembedded memories", nil
	}
	if req.DryRun {
		return len(missing), fmt.Sprintf("%d memories need embeddings", len(missing)), nil
	}

	if avail := r.client.Available(ctx); !avail.Available {
		return 0, "", types.Ef(types.KindProviderUnavailable, "embedding provider unavailable: %s", avail.Error)
	}
	texts := make([]string, len(missing))
	for i, m := range missing {
		texts[i] = m.Content
	}
	vectors := r.client.EmbedBatchOrNil(ctx, texts)

	model := r.client.Model()
	items := make([]store.EmbeddingItem, 0, len(missing))
	for i, m := range missing {
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
	n, err := r.store.UpsertEmbeddingBatch(ctx, items)
	if err != nil {
		return n, "", err
	}
	return n, fmt.Sprintf("re-embedded %d of %d memories", n, len(missing)), nil
}

func runPruneLowValue(ctx context.Context, r *Registry, req Request) (int, string, error) {
	max := req.MaxBatch
	if max <= 0 {
		max = 50
	}
	actor := req.ActorType
	if actor == "" {
		actor = types.ActorAgent
	}
	n, err := r.store.PruneLowValueMemories(ctx, max, types.MutationContext{ActorType: actor})
	if err != nil {
		return n, "", err
	}
	return n, fmt.Sprintf("pruned %d low-value memories", n), nil
}
