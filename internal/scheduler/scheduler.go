// Package scheduler runs the periodic curator video refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/service"
)

// Refresher looks up curator videos for games that have none.
type Refresher interface {
	RefreshStale(ctx context.Context, staleAfter time.Duration, batch int) (service.RefreshReport, error)
}

type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	cfg       config.SchedulerConfig
	logger    *slog.Logger

	// ctx is cancelled by Stop so a running refresh gives up early.
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the refresh job. An empty CuratorRefreshSpec yields a
// scheduler whose Start and Stop do nothing.
func New(cfg config.SchedulerConfig, refresher Refresher, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.CuratorRefreshSpec == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(cfg.CuratorRefreshSpec, func() { s.RunNow(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: invalid curator refresh spec %q: %w", cfg.CuratorRefreshSpec, err)
	}
	return s, nil
}

// Enabled reports whether a job was registered.
func (s *Scheduler) Enabled() bool {
	return len(s.cron.Entries()) > 0
}

func (s *Scheduler) Start() {
	if !s.Enabled() {
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("curatorRefresh", s.cfg.CuratorRefreshSpec))
}

// Stop cancels a running refresh and waits for it to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	if !s.Enabled() {
		return
	}
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// RunNow performs one refresh pass.
func (s *Scheduler) RunNow(ctx context.Context) (service.RefreshReport, error) {
	start := time.Now()
	report, err := s.refresher.RefreshStale(ctx, s.cfg.StaleAfter(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("curator refresh failed",
			slog.Int("checked", report.Checked),
			slog.String("error", err.Error()),
		)
		return report, err
	}
	s.logger.Info("curator refresh done",
		slog.Int("checked", report.Checked),
		slog.Int("found", report.Found),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}
