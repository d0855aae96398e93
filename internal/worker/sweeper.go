package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edu-portal/portal-identity/internal/audit"
	"github.com/edu-portal/portal-identity/internal/config"
	"github.com/edu-portal/portal-identity/internal/ledger"
)

// Sweeper runs the periodic maintenance jobs: expired-session removal and
// audit retention purge.
type Sweeper struct {
	cron     *cron.Cron
	sessions ledger.SessionLedger
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewSweeper builds an unstarted sweeper.
func NewSweeper(sessions ledger.SessionLedger, recorder *audit.Recorder, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
}

// Start registers the cron jobs and begins the scheduler.
func (s *Sweeper) Start(cfg config.MaintenanceConfig) error {
	if _, err := s.cron.AddFunc(cfg.SessionSweepSchedule, s.sweepSessions); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.AuditPurgeSchedule, s.purgeAudit); err != nil {
		return fmt.Errorf("schedule audit purge: %w", err)
	}

	s.cron.Start()
	s.logger.Info("maintenance sweeper started",
		zap.String("session_sweep", cfg.SessionSweepSchedule),
		zap.String("audit_purge", cfg.AuditPurgeSchedule))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance sweeper stopped")
}

func (s *Sweeper) sweepSessions() {
	removed, err := s.sessions.SweepExpired(context.Background())
	if err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", zap.Int("count", removed))
	}
}

func (s *Sweeper) purgeAudit() {
	deleted, err := s.recorder.PurgeExpired(context.Background())
	if err != nil {
		s.logger.Error("audit purge failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("expired audit entries purged", zap.Int64("count", deleted))
	}
}
