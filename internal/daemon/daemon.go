// Package daemon wires the memory core together and owns its lifecycle:
// config, store, provider clients, background loops, HTTP. Everything
// here is assembly; behavior lives in the packages it binds.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/extract"
	"github.com/signetai/signet/internal/feed"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/repair"
	"github.com/signetai/signet/internal/server"
	"github.com/signetai/signet/internal/session"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/tracker"
	"github.com/signetai/signet/internal/types"
)

const (
	retentionSweepInterval = 6 * time.Hour
	retentionSweepBatch    = 500
	candidateMaxAge        = 30 * 24 * time.Hour
)

// Options configure one daemon run.
type Options struct {
	// AgentsDir is the root directory: config file, memory/, .daemon/.
	AgentsDir string
	Host      string
	Port      int

	// Log carries lifecycle breadcrumbs. Hot paths use the category
	// logger instead.
	Log *zap.Logger
}

// Run boots the memory core and blocks until ctx is canceled or a fatal
// startup error occurs. Store-open and migration failures are fatal;
// provider failures degrade.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	if err := logging.Initialize(opts.AgentsDir); err != nil {
		log.Warn("file logging disabled", zap.Error(err))
	}
	defer logging.CloseAll()

	cfg, err := config.Load(opts.AgentsDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn("config warning", zap.String("warning", w))
		logging.BootWarn("config: %s", w)
	}

	memoryDir := filepath.Join(opts.AgentsDir, "memory")
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	st, err := store.Open(filepath.Join(memoryDir, "memories.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info("store open", zap.String("path", filepath.Join(memoryDir, "memories.db")), zap.Bool("vec", st.HasVec()))

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		log.Warn("embedding engine unavailable, semantic recall degraded", zap.Error(err))
		logging.BootWarn("embedding engine: %v", err)
	}
	client := embedding.NewClient(engine)
	st.SetEmbedder(client)

	trk := tracker.New(st, client)
	repairs := repair.New(st, client, cfg)
	sessions := session.NewManager(st, cfg)

	var worker *extract.Worker
	if cfg.Pipeline.Enabled {
		provider, err := extract.NewProvider(cfg.Pipeline.Extraction)
		if err != nil {
			log.Warn("extraction provider unavailable, pipeline idle", zap.Error(err))
			logging.BootWarn("extraction provider: %v", err)
		} else {
			worker = extract.NewWorker(st, provider, cfg)
		}
	}

	fd := feed.New(st, memoryDir, cfg.Pipeline.Guardrails.ChunkTargetChars, store.RememberOptions{
		MaxContentChars:   cfg.Pipeline.Guardrails.MaxContentChars,
		EnqueueExtraction: cfg.Pipeline.Enabled,
		EmbedModel:        client.Model(),
	})

	srv := server.New(st, cfg, client, repairs, sessions)

	pidPath := filepath.Join(opts.AgentsDir, ".daemon", "pid")
	if err := writePidFile(pidPath); err != nil {
		log.Warn("pid file not written", zap.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	trk.Start()
	defer trk.Stop()
	if worker != nil {
		worker.Start()
		defer worker.Stop()
	}
	if err := fd.Start(); err != nil {
		log.Warn("markdown feed disabled", zap.Error(err))
	} else {
		defer fd.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, opts.Host, opts.Port)
	})
	g.Go(func() error {
		runRetentionSweeper(gctx, st, cfg)
		return nil
	})
	if cfg.Pipeline.Autonomous.Enabled {
		g.Go(func() error {
			runMaintenance(gctx, st, repairs, cfg)
			return nil
		})
	}

	log.Info("signet daemon up",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.Bool("pipeline", cfg.Pipeline.Enabled),
		zap.Bool("autonomous", cfg.Pipeline.Autonomous.Enabled))
	logging.Boot("daemon up on %s:%d", opts.Host, opts.Port)

	err = g.Wait()
	log.Info("signet daemon stopped")
	return err
}

// runRetentionSweeper hard-deletes soft-deleted rows past the retention
// window and prunes stale session candidate bookkeeping.
func runRetentionSweeper(ctx context.Context, st *store.Store, cfg *config.Config) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.SweepExpired(ctx, cfg.RetentionWindow(), retentionSweepBatch); err != nil {
				logging.RetentionWarn("sweep failed: %v", err)
			} else if n > 0 {
				logging.Retention("swept %d expired memories", n)
			}
			if n, err := st.PruneSessionCandidates(ctx, candidateMaxAge); err != nil {
				logging.RetentionWarn("candidate prune failed: %v", err)
			} else if n > 0 {
				logging.Retention("pruned %d stale session candidates", n)
			}
		}
	}
}

// maintenanceActions run in execute mode, in order. Each goes through
// the same gate and rate limits as an operator-triggered repair.
var maintenanceActions = []string{
	"releaseStaleLeases",
	"requeueDeadJobs",
	"reembedMissingMemories",
}

// runMaintenance is the autonomous loop. Observe mode only reports what
// execute mode would do; execute mode runs the repair actions as the
// pipeline actor, so policy gates and budgets still apply.
func runMaintenance(ctx context.Context, st *store.Store, repairs *repair.Registry, cfg *config.Config) {
	interval := cfg.MaintenanceInterval()
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	execute := cfg.Pipeline.Autonomous.MaintenanceMode == "execute"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !execute {
				observeMaintenance(ctx, st)
				continue
			}
			for _, action := range maintenanceActions {
				res, err := repairs.Run(ctx, repair.Request{
					Action:    action,
					ActorType: types.ActorPipeline,
					Reason:    "autonomous maintenance",
				})
				switch {
				case err != nil && types.KindOf(err) == types.KindRateLimited:
					logging.RepairDebug("maintenance %s deferred: %v", action, err)
				case err != nil:
					logging.RepairWarn("maintenance %s failed: %v", action, err)
				case res.Affected > 0:
					logging.Repair("maintenance %s: %s", action, res.Message)
				}
			}
		}
	}
}

func observeMaintenance(ctx context.Context, st *store.Store) {
	dead, err := st.CountJobs(ctx, types.JobDead)
	if err != nil {
		logging.RepairWarn("observe pass failed: %v", err)
		return
	}
	missing, err := st.MissingEmbeddings(ctx, 1)
	if err != nil {
		logging.RepairWarn("observe pass failed: %v", err)
		return
	}
	if dead > 0 || len(missing) > 0 {
		logging.Repair("observe: %d dead jobs, embedding backlog present=%v (execute mode would repair)",
			dead, len(missing) > 0)
	}
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
