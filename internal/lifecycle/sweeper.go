package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	// Schedule is a cron expression; "@every 1m" by default. Evaluation is
	// derived from stored deadlines, so the schedule affects detection
	// latency only, never correctness.
	Schedule       string
	SweepTimeout   time.Duration
	AuditRetention time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:       "@every 1m",
		SweepTimeout:   30 * time.Second,
		AuditRetention: 2 * 365 * 24 * time.Hour,
	}
}

// AuditPruner deletes audit entries older than a cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically runs the SLA sweep and the audit retention prune.
type Sweeper struct {
	config SweeperConfig
	engine *Engine
	pruner AuditPruner
	cron   *cron.Cron
}

// NewSweeper creates a new SLA sweeper. pruner may be nil to disable audit
// retention pruning.
func NewSweeper(config SweeperConfig, engine *Engine, pruner AuditPruner) *Sweeper {
	return &Sweeper{
		config: config,
		engine: engine,
		pruner: pruner,
		cron:   cron.New(),
	}
}

// Start schedules the sweep jobs and launches the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.config.Schedule, s.runSweep); err != nil {
		return err
	}
	if s.pruner != nil {
		if _, err := s.cron.AddFunc("@daily", s.runPrune); err != nil {
			return err
		}
	}

	slog.Info("starting sla sweeper", "schedule", s.config.Schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("sla sweeper stopped")
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()

	if err := s.engine.Sweep(ctx); err != nil {
		slog.Error("sla sweep failed", "error", err)
	}
}

func (s *Sweeper) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.config.AuditRetention)
	deleted, err := s.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("audit retention prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("pruned audit entries", "deleted", deleted, "cutoff", cutoff)
	}
}
