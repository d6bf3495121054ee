package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	"exportstudio/internal/home"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

const (
	// abandonAfter is how long a non-terminal job may go without a
	// heartbeat before the sweep fails it.
	abandonAfter = 2 * time.Minute

	sweepInterval = time.Minute
	auditCron     = "0 3 * * *"
)

// Maintenance runs the periodic job housekeeping: the abandoned-job sweep
// and the daily artifact cache audit.
type Maintenance struct {
	scheduler gocron.Scheduler
	store     *store.Store
	home      home.Dir
	logger    *slog.Logger
	now       func() time.Time
}

// NewMaintenance creates the maintenance scheduler. logger may be nil.
func NewMaintenance(s *store.Store, h home.Dir, logger *slog.Logger) (*Maintenance, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create maintenance scheduler: %w", err)
	}
	return &Maintenance{
		scheduler: sched,
		store:     s,
		home:      h,
		logger:    logging.Default(logger).With("component", "jobs-maintenance"),
		now:       time.Now,
	}, nil
}

// Start registers and begins the periodic tasks.
func (m *Maintenance) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(func() { m.runSweep(context.Background()) }),
		gocron.WithName("abandoned-job-sweep"),
	)
	if err != nil {
		return fmt.Errorf("register abandoned-job sweep: %w", err)
	}

	_, err = m.scheduler.NewJob(
		gocron.CronJob(auditCron, false),
		gocron.NewTask(func() { m.runAudit(context.Background()) }),
		gocron.WithName("artifact-cache-audit"),
	)
	if err != nil {
		return fmt.Errorf("register artifact audit: %w", err)
	}

	m.scheduler.Start()
	m.logger.Info("maintenance started")
	return nil
}

// Stop shuts down the scheduler and waits for running tasks.
func (m *Maintenance) Stop() error {
	return m.scheduler.Shutdown()
}

func (m *Maintenance) runSweep(ctx context.Context) {
	if n, err := m.SweepAbandoned(ctx); err != nil {
		m.logger.Error("abandoned-job sweep failed", "error", err)
	} else if n > 0 {
		m.logger.Info("abandoned jobs failed", "count", n)
	}
}

func (m *Maintenance) runAudit(ctx context.Context) {
	if n, err := m.AuditArtifacts(ctx); err != nil {
		m.logger.Error("artifact audit failed", "error", err)
	} else if n > 0 {
		m.logger.Info("stale job results cleared", "count", n)
	}
}

// SweepAbandoned fails pending/running jobs whose last sign of life is older
// than the abandonment window.
func (m *Maintenance) SweepAbandoned(ctx context.Context) (int, error) {
	now := m.now().Unix()
	cutoff := now - int64(abandonAfter.Seconds())
	return m.store.SweepAbandonedJobs(ctx, cutoff, now)
}

// AuditArtifacts clears the result path of done jobs whose artifact file no
// longer exists, degrading them to cache misses.
func (m *Maintenance) AuditArtifacts(ctx context.Context) (int, error) {
	done, err := m.store.DoneJobs(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, j := range done {
		p := filepath.Join(m.home.Root(), j.ResultPath)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := m.store.ClearJobResult(ctx, j.ID); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
